package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"irisvault/internal/capture/device"
	"irisvault/internal/gateway/cache"
	"irisvault/internal/gateway/fake"
	"irisvault/internal/gateway/models"
	dErrors "irisvault/pkg/domain-errors"
	"irisvault/pkg/platform/circuit"
)

func irisFrames(t *testing.T, seed int64, n int) []device.Frame {
	t.Helper()
	frames := make([]device.Frame, n)
	for i := range frames {
		img := device.RenderIris(640, 480, seed, float64(i), 0)
		payload, err := device.EncodeFrame(img, 640, 480, device.DefaultQuality)
		require.NoError(t, err)
		frames[i] = device.Frame{Index: i, Width: 640, Height: 480, JPEG: payload}
	}
	return frames
}

// ClientSuite runs the client against the in-memory backend.
type ClientSuite struct {
	suite.Suite
	backend *httptest.Server
	client  *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.backend = httptest.NewServer(fake.New().Handler())
	client, err := NewClient(s.backend.URL + "/api")
	s.Require().NoError(err)
	s.client = client
}

func (s *ClientSuite) TearDownTest() {
	s.backend.Close()
}

func (s *ClientSuite) enroll(account string, seed int64) models.EnrollmentResult {
	res, err := s.client.Enroll(context.Background(), models.EnrollmentRequest{
		Identity: models.Identity{Name: "Ada Lovelace", AccountNumber: account, Email: "ada@example.com"},
		Consent:  true,
		Frames:   irisFrames(s.T(), seed, 5),
	})
	s.Require().NoError(err)
	return res
}

// =============================================================================
// Account lookup
// =============================================================================

func (s *ClientSuite) TestBalance_UnknownAccount() {
	_, err := s.client.Balance(context.Background(), "ACC404")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeAccountNotFound))
}

func (s *ClientSuite) TestBalance_EnrolledAccount() {
	s.enroll("ACC1", 7)

	account, err := s.client.Balance(context.Background(), "ACC1")
	s.Require().NoError(err)
	s.Equal("ACC1", account.AccountNumber)
	s.Equal("Ada Lovelace", account.Name)
	s.Positive(account.Balance)
}

// =============================================================================
// Enrollment
// =============================================================================

func (s *ClientSuite) TestEnroll_Success() {
	res := s.enroll("ACC1", 7)
	s.True(res.Success)
	s.NotEmpty(res.EnrollmentID)
	s.Equal("ACC1", res.AccountNumber)
	s.Positive(res.QualityScore)
}

func (s *ClientSuite) TestEnroll_RejectionDetailIsVerbatim() {
	s.enroll("ACC1", 7)

	_, err := s.client.Enroll(context.Background(), models.EnrollmentRequest{
		Identity: models.Identity{Name: "Ada", AccountNumber: "ACC1", Email: "ada@example.com"},
		Consent:  true,
		Frames:   irisFrames(s.T(), 7, 5),
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeEnrollmentRejected))
	s.Equal("Account already enrolled", dErrors.Message(err))
}

// =============================================================================
// Verification and fallback
// =============================================================================

func (s *ClientSuite) TestVerify_SameIrisMatches() {
	s.enroll("ACC1", 7)

	res, err := s.client.Verify(context.Background(), models.VerificationRequest{
		AccountNumber: "ACC1",
		Frames:        irisFrames(s.T(), 7, 3),
	})
	s.Require().NoError(err)
	s.True(res.Match)
	s.Equal("Ada Lovelace", res.Name)
	s.NotEmpty(res.UserID)
}

func (s *ClientSuite) TestVerify_UnknownAccountIsFailure() {
	_, err := s.client.Verify(context.Background(), models.VerificationRequest{
		AccountNumber: "ACC404",
		Frames:        irisFrames(s.T(), 7, 3),
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeVerificationFailed))
}

func (s *ClientSuite) TestFallback_DemoCredentialRoundTrip() {
	s.enroll("ACC1", 7)
	ctx := context.Background()

	credential, err := s.client.DemoCredential(ctx, "ACC1")
	s.Require().NoError(err)
	s.Len(credential, 6)
	s.Equal(fake.DemoCredential("ACC1"), credential)

	res, err := s.client.VerifyFallback(ctx, models.FallbackRequest{AccountNumber: "ACC1", Credential: credential})
	s.Require().NoError(err)
	s.True(res.Match)
	s.Equal("Ada Lovelace", res.Name)

	res, err = s.client.VerifyFallback(ctx, models.FallbackRequest{AccountNumber: "ACC1", Credential: "000000x"})
	s.Require().NoError(err)
	s.False(res.Match)
	s.NotEmpty(res.Reason)
}

// =============================================================================
// Transport behavior
// =============================================================================

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url)
	require.NoError(t, err)

	_, err = client.Balance(context.Background(), "ACC1")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNetwork))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithBreaker(circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Hour),
	)))
	require.NoError(t, err)

	ctx := context.Background()
	for range 2 {
		_, err := client.Verify(ctx, models.VerificationRequest{AccountNumber: "ACC1"})
		assert.True(t, dErrors.Is(err, dErrors.CodeVerificationFailed))
	}

	_, err = client.Verify(ctx, models.VerificationRequest{AccountNumber: "ACC1"})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNetwork))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit short-circuits the call")
}

func TestClient_CancelledCallsLeaveBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/balance") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"account_number":"ACC1","balance":10,"name":"Ada"}`))
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	breaker := circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Hour),
	)
	client, err := NewClient(srv.URL, WithBreaker(breaker))
	require.NoError(t, err)

	for range 5 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := client.Verify(ctx, models.VerificationRequest{AccountNumber: "ACC1"})
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeNetwork))
		assert.NotErrorIs(t, err, ErrCircuitOpen)
		cancel()
	}
	assert.False(t, breaker.IsOpen())

	account, err := client.Balance(context.Background(), "ACC1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", account.Name)
}

func TestClient_BalanceReadThroughCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"account_number":"ACC1","balance":42.5,"name":"Ada"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithAccountCache(cache.NewMemoryCache(time.Minute)))
	require.NoError(t, err)

	for range 3 {
		account, err := client.Balance(context.Background(), "ACC1")
		require.NoError(t, err)
		assert.Equal(t, 42.5, account.Balance)
	}
	assert.Equal(t, 1, calls)
}

func TestClient_RejectionWithPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "liveness check failed", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Enroll(context.Background(), models.EnrollmentRequest{Consent: true})
	require.Error(t, err)
	assert.Equal(t, "liveness check failed", dErrors.Message(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = client.DemoCredential(context.Background(), "ACC1")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNetwork))
}
