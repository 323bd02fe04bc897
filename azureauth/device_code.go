package azureauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

const deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceCode is the reply to a device authorization request. The user
// visits VerificationURI and enters UserCode.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`   // seconds between polls
	ExpiresIn       int    `json:"expires_in"` // seconds until the code expires
	Message         string `json:"message"`
}

// StartDeviceCodeFlow requests a device code for the configured tenant and
// client.
func (c *Credential) StartDeviceCodeFlow(ctx context.Context) (*DeviceCode, error) {
	if c.cfg.TenantID == "" || c.cfg.ClientID == "" {
		return nil, invalidConfig("device code flow requires tenant_id and client_id")
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", c.cfg.EffectiveAuthority(), c.cfg.TenantID)
	form := url.Values{"client_id": {c.cfg.ClientID}, "scope": {c.cfg.EffectiveScope()}}

	status, body, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return nil, &AcquisitionError{Source: "device_code", Message: "device code request failed", Cause: err}
	}
	if status/100 != 2 {
		return nil, &AcquisitionError{
			Source:  "device_code",
			Message: fmt.Sprintf("device code request failed - HTTP %d: %s", status, body),
		}
	}
	var dc DeviceCode
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, &AcquisitionError{Source: "device_code", Message: "decoding device code response", Cause: err}
	}
	return &dc, nil
}

type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// PollDeviceCode polls the token endpoint until the user completes the
// login, the code expires, or ctx is done. The token is cached on success.
func (c *Credential) PollDeviceCode(ctx context.Context, dc *DeviceCode) (string, error) {
	interval := time.Duration(dc.Interval) * time.Second
	if interval < c.minPoll {
		interval = c.minPoll
	}
	deadline := c.now().Add(time.Duration(dc.ExpiresIn) * time.Second)
	form := url.Values{
		"client_id":   {c.cfg.ClientID},
		"device_code": {dc.DeviceCode},
		"grant_type":  {deviceCodeGrant},
	}

	for c.now().Before(deadline) {
		status, body, err := c.postForm(ctx, c.tokenURL(c.cfg.TenantID), form)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &AcquisitionError{Source: "device_code", Message: "token request failed", Cause: err}
		}
		if status/100 == 2 {
			var tr tokenResponse
			if err := json.Unmarshal(body, &tr); err != nil {
				return "", &AcquisitionError{Source: "device_code", Message: "decoding token response", Cause: err}
			}
			c.logger.Info("device code authentication completed")
			return c.store(tr), nil
		}

		wait := interval
		var oe oauthError
		if json.Unmarshal(body, &oe) == nil && oe.Error != "" {
			switch oe.Error {
			case "authorization_pending":
				c.logger.Debug("device code authorization pending")
			case "slow_down":
				c.logger.Debug("device code slow down requested")
				wait = 2 * interval
			case "expired_token":
				return "", ErrDeviceCodeTimeout
			case "access_denied":
				msg := oe.Description
				if msg == "" {
					msg = "access denied"
				}
				return "", &AcquisitionError{Source: "device_code", Message: msg}
			default:
				return "", &AcquisitionError{Source: "device_code", Message: oe.Error + ": " + oe.Description}
			}
		} else {
			c.logger.Debug("unexpected device code poll reply", "status", status)
		}

		if err := c.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", ErrDeviceCodeTimeout
}

// AcquireWithDeviceCode runs the whole interactive flow. prompt is called
// once with the device code so the caller can show the user where to go.
func (c *Credential) AcquireWithDeviceCode(ctx context.Context, prompt func(*DeviceCode)) (string, error) {
	if tok, ok := c.cache.Get(); ok {
		return tok, nil
	}
	dc, err := c.StartDeviceCodeFlow(ctx)
	if err != nil {
		return "", err
	}
	if prompt != nil {
		prompt(dc)
	}
	return c.PollDeviceCode(ctx, dc)
}
