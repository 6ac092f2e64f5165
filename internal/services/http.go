package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/solweave/chainflow/pkg/schema"
)

const defaultTimeout = 60 * time.Second

// maxResponseBody caps how much of a service response is read.
const maxResponseBody = 4 << 20

// HTTPClientConfig configures an HTTP-backed service client.
type HTTPClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func (c HTTPClientConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// httpService is the shared POST-JSON plumbing behind the service clients.
type httpService struct {
	cfg    HTTPClientConfig
	client *http.Client
}

func newHTTPService(cfg HTTPClientConfig) *httpService {
	return &httpService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.timeout()},
	}
}

// postJSON sends a JSON body to baseURL+path and decodes the JSON response
// into out. Non-2xx responses and transport failures come back as
// EXTERNAL_SERVICE_ERROR with whatever detail the service reported.
func (s *httpService) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "marshal %s request", path).WithCause(err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "create %s request", path).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalService, "%s request failed: %v", path, err).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalService, "read %s response", path).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return schema.NewErrorf(schema.ErrCodeExternalService, "%s returned %d: %s",
			path, resp.StatusCode, serviceErrorText(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return schema.NewErrorf(schema.ErrCodeExternalService, "decode %s response", path).WithCause(err)
		}
	}
	return nil
}

func (s *httpService) getJSON(ctx context.Context, path string, out any) error {
	url := strings.TrimRight(s.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "create %s request", path).WithCause(err)
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalService, "%s request failed: %v", path, err).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalService, "read %s response", path).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return schema.NewErrorf(schema.ErrCodeExternalService, "%s returned %d: %s",
			path, resp.StatusCode, serviceErrorText(respBody))
	}

	return json.Unmarshal(respBody, out)
}

// serviceErrorText extracts a readable error from a service response body.
// Tries the common {"error": "..."} and {"errors": [...]} shapes before
// falling back to the raw body.
func serviceErrorText(body []byte) string {
	var wrapped struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Error != "" {
			return wrapped.Error
		}
		if len(wrapped.Errors) > 0 {
			return strings.Join(wrapped.Errors, "; ")
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "no error detail"
	}
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

// --- Compiler ---

// HTTPCompiler talks to a solc compilation service.
type HTTPCompiler struct {
	*httpService
}

// NewHTTPCompiler creates a compiler client against the given service.
func NewHTTPCompiler(cfg HTTPClientConfig) *HTTPCompiler {
	return &HTTPCompiler{httpService: newHTTPService(cfg)}
}

func (c *HTTPCompiler) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	var resp struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode string          `json:"bytecode"`
		Version  string          `json:"version"`
		Errors   []string        `json:"errors"`
	}
	if err := c.postJSON(ctx, "/compile", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExternalService,
			"compilation failed: %s", strings.Join(resp.Errors, "; "))
	}
	if resp.Bytecode == "" {
		return nil, schema.NewError(schema.ErrCodeExternalService, "compiler returned no bytecode")
	}
	return &CompileResult{ABI: resp.ABI, Bytecode: resp.Bytecode, Version: resp.Version}, nil
}

var _ Compiler = (*HTTPCompiler)(nil)

// --- Deployer ---

// HTTPDeployer talks to a wallet/deployment service.
type HTTPDeployer struct {
	*httpService
}

// NewHTTPDeployer creates a deployer client against the given service.
func NewHTTPDeployer(cfg HTTPClientConfig) *HTTPDeployer {
	return &HTTPDeployer{httpService: newHTTPService(cfg)}
}

func (d *HTTPDeployer) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	var resp struct {
		ContractAddress string `json:"contractAddress"`
		TransactionHash string `json:"transactionHash"`
		Error           string `json:"error"`
	}
	if err := d.postJSON(ctx, "/deploy", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, schema.NewErrorf(schema.ErrCodeExternalService, "deployment failed: %s", resp.Error)
	}
	if resp.ContractAddress == "" {
		return nil, schema.NewError(schema.ErrCodeExternalService, "deploy service returned no contract address")
	}
	return &DeployResult{
		ContractAddress: resp.ContractAddress,
		TransactionHash: resp.TransactionHash,
	}, nil
}

func (d *HTTPDeployer) Session(ctx context.Context) (*Session, error) {
	var sess Session
	if err := d.getJSON(ctx, "/session", &sess); err != nil {
		return nil, err
	}
	if sess.Address == "" {
		return nil, schema.NewError(schema.ErrCodeExternalService, "no active wallet session")
	}
	return &sess, nil
}

var _ Deployer = (*HTTPDeployer)(nil)

// --- Auditor ---

// HTTPAuditor talks to an AI analysis service.
type HTTPAuditor struct {
	*httpService
}

// NewHTTPAuditor creates an auditor client against the given service.
func NewHTTPAuditor(cfg HTTPClientConfig) *HTTPAuditor {
	return &HTTPAuditor{httpService: newHTTPService(cfg)}
}

func (a *HTTPAuditor) Analyze(ctx context.Context, req AuditRequest) (*AuditResult, error) {
	var resp struct {
		Analysis string `json:"analysis"`
		Error    string `json:"error"`
	}
	if err := a.postJSON(ctx, "/analyze", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, schema.NewErrorf(schema.ErrCodeExternalService, "analysis failed: %s", resp.Error)
	}
	if resp.Analysis == "" {
		return nil, schema.NewError(schema.ErrCodeExternalService, "AI service returned empty analysis")
	}
	return &AuditResult{Analysis: resp.Analysis}, nil
}

var _ Auditor = (*HTTPAuditor)(nil)
