package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const doctorIDKey contextKey = "doctor_id"

// DoctorJWT requires an HMAC-signed bearer token whose subject is a doctor ID.
func DoctorJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "doctor auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			doctorID, err := uuid.Parse(claims.Subject)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "token subject is not a doctor id")
				return
			}

			ctx := context.WithValue(r.Context(), doctorIDKey, doctorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSelf rejects requests whose {id} URL parameter is not the
// authenticated doctor.
func RequireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := DoctorIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "doctor token required")
			return
		}
		pathID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}
		if pathID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "token does not belong to this doctor")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func DoctorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(doctorIDKey).(uuid.UUID)
	return id, ok
}

// IssueDoctorToken signs a token for doctorID valid for ttl.
func IssueDoctorToken(secret string, doctorID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   doctorID.String(),
		Issuer:    "clinic-booking",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
