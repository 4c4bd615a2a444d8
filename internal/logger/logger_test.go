package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, logrus.WarnLevel, New("warn", "json").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("nonsense", "json").GetLevel())

	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, logrus.DebugLevel, New("error", "text").GetLevel())
}

func TestNew_Format(t *testing.T) {
	_, ok := New("info", "text").Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
	_, ok = New("info", "").Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	r := gin.New()
	r.Use(Middleware(log))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Contains(t, buf.String(), `"status_code":404`)
	assert.Contains(t, buf.String(), `"path":"/missing"`)
}
