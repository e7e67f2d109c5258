package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"subsidy-esign/internal/common/config"
	apperrors "subsidy-esign/internal/common/errors"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// DocuSignJWT exchanges a signed JWT assertion for a DocuSign access token.
type DocuSignJWT struct {
	authServer     string
	integrationKey string
	userID         string
	scopes         []string
	key            *rsa.PrivateKey
	httpClient     *http.Client
	now            func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewDocuSignJWT reads the RSA key inline or from private_key_path.
func NewDocuSignJWT(cfg config.DocuSignConfig, httpClient *http.Client) (*DocuSignJWT, error) {
	pemBytes := []byte(cfg.PrivateKey)
	if len(pemBytes) == 0 {
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read docusign private key: %w", err)
		}
		pemBytes = b
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse docusign private key: %w", err)
	}

	authServer := cfg.AuthServer
	if !strings.HasPrefix(authServer, "http://") && !strings.HasPrefix(authServer, "https://") {
		authServer = "https://" + authServer
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.GetDuration(cfg.Timeout)}
	}

	return &DocuSignJWT{
		authServer:     strings.TrimSuffix(authServer, "/"),
		integrationKey: cfg.IntegrationKey,
		userID:         cfg.UserID,
		scopes:         cfg.Scopes,
		key:            key,
		httpClient:     httpClient,
		now:            time.Now,
	}, nil
}

// Assertion builds the RS256 grant assertion.
func (d *DocuSignJWT) Assertion() (string, error) {
	u, err := url.Parse(d.authServer)
	if err != nil {
		return "", err
	}
	now := d.now()
	claims := jwt.MapClaims{
		"iss":   d.integrationKey,
		"sub":   d.userID,
		"aud":   u.Host,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": strings.Join(d.scopes, " "),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(d.key)
}

func (d *DocuSignJWT) FetchToken(ctx context.Context) (*Token, error) {
	assertion, err := d.Assertion()
	if err != nil {
		return nil, apperrors.NewAuthError("docusign", 0, "", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.authServer+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.NewAuthError("docusign", 0, "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewAuthError("docusign", 0, "", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewAuthError("docusign", resp.StatusCode, string(body), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, apperrors.NewAuthError("docusign", resp.StatusCode, string(body), fmt.Errorf("malformed token response"))
	}
	return &Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   d.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
