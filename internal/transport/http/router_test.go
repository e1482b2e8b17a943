package httptransport

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"irisvault/internal/enrollment"
	"irisvault/internal/verification"
	"irisvault/pkg/testutil"
)

type brokenFactory struct{}

func (brokenFactory) NewEnrollment(string, ...enrollment.Option) (*enrollment.Flow, error) {
	return nil, errors.New("camera unplugged")
}

func (brokenFactory) NewLogin(string, ...verification.Option) (*verification.Flow, error) {
	return nil, errors.New("camera unplugged")
}

func TestRouterScaffold(t *testing.T) {
	testutil.Given(t, "a router without session or audit surfaces", func(t *testing.T) {
		handler, err := New(brokenFactory{})
		require.NoError(t, err)
		t.Cleanup(handler.Close)
		sc := &testutil.Scenario{Router: NewRouter(handler)}

		testutil.When(t, "calling GET /session", func(t *testing.T) {
			sc.Send(t, http.MethodGet, "/session", nil)

			testutil.Then(t, "it should respond with not found", func(t *testing.T) {
				require.Equal(t, http.StatusNotFound, sc.Last.Code)
			})
		})

		testutil.When(t, "calling GET /audit/ACC1", func(t *testing.T) {
			sc.Send(t, http.MethodGet, "/audit/ACC1", nil)

			testutil.Then(t, "it should respond with not found", func(t *testing.T) {
				require.Equal(t, http.StatusNotFound, sc.Last.Code)
			})
		})

		testutil.When(t, "the camera cannot be set up for a login", func(t *testing.T) {
			sc.Send(t, http.MethodPost, "/logins", nil)

			testutil.Then(t, "it should report an internal error", func(t *testing.T) {
				testutil.AssertStatusAndError(t, sc.Last, http.StatusInternalServerError, "internal_error")
			})
		})
	})
}
