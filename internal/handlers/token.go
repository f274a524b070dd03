package handlers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid download token")

// downloadClaims binds a token to one artifact: the job, the directory name
// and the owning account. The token expires with the artifact.
type downloadClaims struct {
	JobID     string `json:"job_id"`
	DirName   string `json:"dir_name"`
	AccountID uint   `json:"account_id"`
	jwt.RegisteredClaims
}

func signDownloadToken(secret, jobID, dirName string, accountID uint, expiresAt time.Time) (string, error) {
	claims := downloadClaims{
		JobID:     jobID,
		DirName:   dirName,
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseDownloadToken(secret, token string) (*downloadClaims, error) {
	claims := &downloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}
