package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://cognito-idp.ap-southeast-1.amazonaws.com/"
	DefaultClientID = "36f6piu770fotfscvhi3jb1vb7"

	initiateAuthTarget = "AWSCognitoIdentityProviderService.InitiateAuth"
	amzJSONContentType = "application/x-amz-json-1.1"
)

// identityClient speaks the Cognito InitiateAuth wire protocol. The vendor
// app authenticates with USER_PASSWORD_AUTH and renews with
// REFRESH_TOKEN_AUTH against a fixed user pool client.
type identityClient struct {
	endpoint   string
	clientID   string
	httpClient *http.Client
}

func newIdentityClient(endpoint, clientID string, timeout time.Duration) *identityClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &identityClient{
		endpoint:   endpoint,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type authenticationResult struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
	ExpiresIn    int    `json:"ExpiresIn"`
	TokenType    string `json:"TokenType"`
}

type initiateAuthResponse struct {
	AuthenticationResult *authenticationResult `json:"AuthenticationResult"`
	ChallengeName        string                `json:"ChallengeName"`
}

type cognitoError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func (c *identityClient) passwordAuth(ctx context.Context, username, password string) (authenticationResult, error) {
	return c.initiateAuth(ctx, initiateAuthRequest{
		AuthFlow: "USER_PASSWORD_AUTH",
		ClientID: c.clientID,
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
}

func (c *identityClient) refreshAuth(ctx context.Context, refreshToken string) (authenticationResult, error) {
	return c.initiateAuth(ctx, initiateAuthRequest{
		AuthFlow: "REFRESH_TOKEN_AUTH",
		ClientID: c.clientID,
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": refreshToken,
		},
	})
}

func (c *identityClient) initiateAuth(ctx context.Context, reqBody initiateAuthRequest) (authenticationResult, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return authenticationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return authenticationResult{}, err
	}
	req.Header.Set("Content-Type", amzJSONContentType)
	req.Header.Set("X-Amz-Target", initiateAuthTarget)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return authenticationResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return authenticationResult{}, fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return authenticationResult{}, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode >= 400 {
		var ce cognitoError
		_ = json.Unmarshal(data, &ce)
		if isCredentialRejection(ce.Type) {
			return authenticationResult{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, ce.Message)
		}
		return authenticationResult{}, fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, ce.Type, ce.Message)
	}

	var out initiateAuthResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return authenticationResult{}, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	if out.AuthenticationResult == nil {
		// An unexpected challenge means the pool wants interaction we
		// cannot provide, which is a credential-level failure.
		return authenticationResult{}, fmt.Errorf("%w: no AuthenticationResult (challenge %q)", ErrInvalidCredentials, out.ChallengeName)
	}

	return *out.AuthenticationResult, nil
}

func isCredentialRejection(errType string) bool {
	switch {
	case strings.Contains(errType, "NotAuthorizedException"),
		strings.Contains(errType, "UserNotFoundException"),
		strings.Contains(errType, "PasswordResetRequiredException"),
		strings.Contains(errType, "UserNotConfirmedException"):
		return true
	}
	return false
}
