package util

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coursehub_backend/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const secret = "util-test-secret"

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(42, model.Teacher, "t@example.com", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, model.Actor{ID: 42, Role: model.Teacher}, claims.Actor())
	assert.Equal(t, "t@example.com", claims.Email)

	_, err = ParseJWT(token, "another-secret")
	assert.Error(t, err)

	expired, err := GenerateJWT(42, model.Teacher, "", secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	// 只接受 HS256
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1, Role: model.Admin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseJWT(unsigned, secret)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("start attempt: %w", ErrNotEnrolled)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, IsKind(ErrAttemptExpired, KindInvalidState))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("disk full")))

	assert.True(t, IsKind(NotFoundOr(gorm.ErrRecordNotFound, "payout"), KindNotFound))
	assert.Equal(t, "payout not found", NotFoundOr(gorm.ErrRecordNotFound, "payout").Error())
	other := errors.New("boom")
	assert.Same(t, other, NotFoundOr(other, "payout"))
}

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err      error
		wantCode int
		wantKind ErrorKind
	}{
		{err: ValidationError("bad %s", "input"), wantCode: http.StatusBadRequest, wantKind: KindValidation},
		{err: ErrAttemptExpired, wantCode: http.StatusConflict, wantKind: KindInvalidState},
		{err: ErrQuizNotFound, wantCode: http.StatusNotFound, wantKind: KindNotFound},
		{err: ErrPermissionDenied, wantCode: http.StatusForbidden, wantKind: KindPermission},
		{err: errors.Wrap(errors.New("conn reset"), "find quiz"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			HandleError(c, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			var body struct {
				Message string `json:"message"`
				Data    struct {
					Kind ErrorKind `json:"kind"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body.Data.Kind)
			if tt.wantKind == "" {
				assert.NotContains(t, body.Message, "conn reset")
			}
		})
	}
}
