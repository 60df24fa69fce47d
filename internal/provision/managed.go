package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
)

const (
	// Managed instance names are capped by the provider.
	instanceNameLimit = 30

	defaultPollInterval = 10 * time.Second
	defaultPollAttempts = 30

	statusRunning = "running"
)

// ManagedInstance is a provisioned managed graph instance. Password is only
// returned by the control plane at creation time.
type ManagedInstance struct {
	ID            string
	Name          string
	Status        string
	ConnectionURL string
	Username      string
	Password      string
}

// ManagedClient drives the managed graph provider's REST control plane:
// client-credential auth, instance creation, status polling and teardown.
type ManagedClient struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	projectID    string
	profile      InstanceProfile

	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ManagedOption adjusts a ManagedClient.
type ManagedOption func(*ManagedClient)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) ManagedOption {
	return func(c *ManagedClient) { c.pollInterval = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ManagedOption {
	return func(c *ManagedClient) { c.httpClient = h }
}

// NewManagedClient builds a client for the control API rooted at baseURL
// (e.g. https://api.neo4j.io/v1). The token endpoint lives one level above
// the versioned root.
func NewManagedClient(baseURL, clientID, clientSecret, projectID string, profile InstanceProfile, opts ...ManagedOption) *ManagedClient {
	base := strings.TrimRight(baseURL, "/")
	c := &ManagedClient{
		baseURL:      base,
		tokenURL:     strings.TrimSuffix(base, "/v1") + "/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		projectID:    projectID,
		profile:      profile,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// truncateInstanceName caps a name at the provider's length limit.
func truncateInstanceName(name string) string {
	if len(name) > instanceNameLimit {
		return name[:instanceNameLimit]
	}
	return name
}

// authenticate performs the client-credential exchange.
func (c *ManagedClient) authenticate(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: control api returned %s", resp.Status)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token exchange: empty access token")
	}
	return body.AccessToken, nil
}

type instanceData struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	ConnectionURL string `json:"connection_url"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

type instanceEnvelope struct {
	Data instanceData `json:"data"`
}

// createInstance requests a new managed instance for the dataset.
func (c *ManagedClient) createInstance(ctx context.Context, token string, datasetID uuid.UUID) (*instanceData, error) {
	payload := map[string]string{
		"version":        c.profile.Version,
		"region":         c.profile.Region,
		"memory":         c.profile.Memory,
		"name":           truncateInstanceName(datasetID.String()),
		"type":           c.profile.Type,
		"tenant_id":      c.projectID,
		"cloud_provider": c.profile.CloudProvider,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal instance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/instances", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build instance request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("create instance: control api returned %s: %s", resp.Status, msg)
	}

	var env instanceEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode instance response: %w", err)
	}
	if env.Data.ID == "" {
		return nil, fmt.Errorf("create instance: response carried no instance id")
	}
	return &env.Data, nil
}

// getInstance fetches the instance's current state.
func (c *ManagedClient) getInstance(ctx context.Context, token, instanceID string) (*instanceData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instances/"+instanceID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll instance %s: %w", instanceID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll instance %s: control api returned %s", instanceID, resp.Status)
	}

	var env instanceEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &env.Data, nil
}

// Provision creates a managed instance for the dataset and waits for it to
// reach running. Callers should expect multi-second-to-minutes latency; the
// wait is bounded by pollAttempts polls, after which ErrProvisioningTimeout
// is returned without automatic retry.
func (c *ManagedClient) Provision(ctx context.Context, datasetID uuid.UUID) (*ManagedInstance, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	created, err := c.createInstance(ctx, token, datasetID)
	if err != nil {
		return nil, err
	}
	log := logging.Op()
	log.Info("managed instance requested", "instance_id", created.ID, "dataset_id", datasetID)

	inst := &ManagedInstance{
		ID:            created.ID,
		Name:          created.Name,
		Status:        created.Status,
		ConnectionURL: created.ConnectionURL,
		Username:      created.Username,
		// The control plane returns the password only once, at creation.
		Password: created.Password,
	}

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		state, err := c.getInstance(ctx, token, created.ID)
		if err != nil {
			return nil, err
		}
		metrics.RecordManagedPoll()

		if state.Status == statusRunning {
			inst.Status = state.Status
			if state.ConnectionURL != "" {
				inst.ConnectionURL = state.ConnectionURL
			}
			if state.Username != "" {
				inst.Username = state.Username
			}
			log.Info("managed instance running", "instance_id", inst.ID, "attempts", attempt)
			return inst, nil
		}
		log.Debug("managed instance not ready", "instance_id", inst.ID, "status", state.Status, "attempt", attempt)

		if attempt < c.pollAttempts {
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return nil, fmt.Errorf("wait for instance %s: %w", inst.ID, err)
			}
		}
	}
	return nil, fmt.Errorf("%w: instance %s not running after %d polls", domain.ErrProvisioningTimeout, inst.ID, c.pollAttempts)
}

// Release tears down a managed instance.
func (c *ManagedClient) Release(ctx context.Context, instanceID string) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/instances/"+instanceID, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", instanceID, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return domain.NotFoundf("managed instance %s", instanceID)
	default:
		return fmt.Errorf("delete instance %s: control api returned %s", instanceID, resp.Status)
	}
}
