// Mock methods required in Beacon tests are all here.

package test

import (
	"Beacon/internal/entity"
	"Beacon/pkg/log"
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
)

// Global instance of gin MockRouter to be used during API testing.
var testRouter *gin.Engine

// Singleton to make sure testRouter is initialized only once.
var once sync.Once

func MockRouter() *gin.Engine {
	once.Do(func() {
		// Initializing the gin test server
		ginMode := os.Getenv("GIN_MODE")
		if ginMode == "" {
			ginMode = gin.TestMode
		}
		gin.SetMode(ginMode)
		testRouter = gin.New()
	})
	return testRouter
}

// MockIdentityCookie signs an HMAC identity token carrying the given claims
// and wraps it in a cookie under cookieName, the way the upstream web
// application does for a real browser client.
func MockIdentityCookie(t interface{ Fatalf(string, ...interface{}) }, secret string, cookieName string, claims jwt.MapClaims) *http.Cookie {
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, signerr := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if signerr != nil {
		t.Fatalf("Couldn't sign mock identity token: %v", signerr)
	}
	return &http.Cookie{
		Name:     cookieName,
		Value:    token,
		HttpOnly: true,
	}
}

// MockTransport records the frames, pings and closes a component performed on
// it, standing in for a real websocket connection.
type MockTransport struct {
	mu sync.Mutex
	// Set to force every write to error, simulating a half-closed socket
	FailWrites bool

	frames [][]byte
	pings  int
	closed bool
}

func (t *MockTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailWrites {
		return errors.New("write on half-closed transport")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	t.frames = append(t.frames, frame)
	return nil
}

func (t *MockTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailWrites {
		return errors.New("write on half-closed transport")
	}
	if messageType == websocket.PingMessage {
		t.pings++
	}
	return nil
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Frames returns a copy of every data frame written so far.
func (t *MockTransport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

// Pings returns how many ping control frames were written.
func (t *MockTransport) Pings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

// Closed reports whether the transport was torn down.
func (t *MockTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MockMetricsRepo counts increments in memory instead of Redis.
type MockMetricsRepo struct {
	mu             sync.Mutex
	connected      int64
	dispatchErrors int64
}

func (m *MockMetricsRepo) GetMetrics(ctx context.Context, logger log.Logger) (entity.Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entity.Metrics{Connected: m.connected, DispatchErrors: m.dispatchErrors}, nil
}

func (m *MockMetricsRepo) IncrConnected(ctx context.Context, logger log.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected++
	return nil
}

func (m *MockMetricsRepo) IncrDispatchError(ctx context.Context, logger log.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchErrors++
	return nil
}
