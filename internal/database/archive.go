package database

import (
	"fmt"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Archive keeps the history of alerts and scaling actions in sqlite.
type Archive struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewArchive(db *gorm.DB, logger *logrus.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

// OnTransition stores the alert snapshot carried by a transition.
func (a *Archive) OnTransition(t models.AlertTransition) {
	if err := a.SaveAlert(t.Alert); err != nil {
		a.logger.WithFields(logrus.Fields{
			"alert_id": t.Alert.ID,
			"to":       t.To,
		}).WithError(err).Error("Failed to archive alert transition")
	}
}

func (a *Archive) OnAlertUpdate(alert models.Alert) {
	if err := a.SaveAlert(alert); err != nil {
		a.logger.WithField("alert_id", alert.ID).WithError(err).Error("Failed to archive alert update")
	}
}

func (a *Archive) OnScaleDecision(d models.ScaleDecision) {
	if err := a.RecordScaleDecision(d); err != nil {
		a.logger.WithField("policy", d.Policy).WithError(err).Error("Failed to archive scaling decision")
	}
}

// SaveAlert inserts the alert or overwrites the archived copy, unless the
// archived copy has a higher revision. Observers run concurrently, so an older
// snapshot can arrive after a newer one.
func (a *Archive) SaveAlert(alert models.Alert) error {
	err := a.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "alerts.revision <= excluded.revision"},
		}},
	}).Create(&alert).Error
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func (a *Archive) GetAlert(id string) (models.Alert, error) {
	var alert models.Alert
	if err := a.db.First(&alert, "id = ?", id).Error; err != nil {
		return alert, fmt.Errorf("failed to find alert: %w", err)
	}
	return alert, nil
}

// AlertsBetween returns alerts triggered in [since, until), oldest first.
func (a *Archive) AlertsBetween(since, until time.Time) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := a.db.Where("triggered_at >= ? AND triggered_at < ?", since, until).
		Order("triggered_at").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}
	return alerts, nil
}

// OpenAlerts returns the archived alerts that were not resolved yet.
func (a *Archive) OpenAlerts() ([]models.Alert, error) {
	var alerts []models.Alert
	if err := a.db.Where("status IN ?", []string{string(models.AlertStatusActive), string(models.AlertStatusAcknowledged)}).
		Order("triggered_at").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch open alerts: %w", err)
	}
	return alerts, nil
}

func (a *Archive) RecordScaleDecision(d models.ScaleDecision) error {
	d.ID = 0
	if err := a.db.Create(&d).Error; err != nil {
		return fmt.Errorf("failed to record scaling decision: %w", err)
	}
	return nil
}

// ScaleDecisionsBetween returns the scaling actions taken in [since, until), oldest first.
func (a *Archive) ScaleDecisionsBetween(since, until time.Time) ([]models.ScaleDecision, error) {
	var decisions []models.ScaleDecision
	if err := a.db.Where("at >= ? AND at < ?", since, until).
		Order("at").Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch scaling decisions: %w", err)
	}
	return decisions, nil
}

// DeleteResolvedBefore drops resolved alerts whose resolution is older than cutoff.
func (a *Archive) DeleteResolvedBefore(cutoff time.Time) (int64, error) {
	res := a.db.Where("status = ? AND resolved_at < ?", models.AlertStatusResolved, cutoff).Delete(&models.Alert{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (a *Archive) Close() error {
	return closeDB(a.db)
}
