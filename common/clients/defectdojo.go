package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/secerr"
)

// DefectDojoClient talks to the DefectDojo v2 API
type DefectDojoClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logger.Logger
}

// NewDefectDojoClient creates a DefectDojo API client
func NewDefectDojoClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *DefectDojoClient {
	return &DefectDojoClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// IDItem is a named API object
type IDItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Product is a DefectDojo product
type Product struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ProdType int64  `json:"prod_type"`
}

// Engagement is a DefectDojo engagement
type Engagement struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Product int64  `json:"product"`
}

// EngagementRequest creates a CI/CD engagement
type EngagementRequest struct {
	Name                      string `json:"name"`
	Product                   int64  `json:"product"`
	Lead                      int64  `json:"lead"`
	Status                    string `json:"status"`
	TargetStart               string `json:"target_start"`
	TargetEnd                 string `json:"target_end"`
	EngagementType            string `json:"engagement_type"`
	DeduplicationOnEngagement bool   `json:"deduplication_on_engagement"`
	BuildID                   string `json:"build_id"`
	CommitHash                string `json:"commit_hash"`
	Description               string `json:"description"`
	SourceCodeManagementURI   string `json:"source_code_management_uri"`
}

// Test is a DefectDojo test
type Test struct {
	ID              int64 `json:"id"`
	PercentComplete int   `json:"percent_complete"`
}

// Finding is a DefectDojo finding with the related fields the validator
// needs.
type Finding struct {
	ID               int64          `json:"id"`
	Title            string         `json:"title"`
	Severity         string         `json:"severity"`
	Active           bool           `json:"active"`
	DuplicateFinding *int64         `json:"duplicate_finding"`
	RelatedFields    *RelatedFields `json:"related_fields"`
}

// RelatedFields carries the expanded relations of a finding
type RelatedFields struct {
	Test RelatedTest `json:"test"`
}

// RelatedTest is the test a finding belongs to
type RelatedTest struct {
	TestType TestType `json:"test_type"`
}

// TestType names the scan type of a test
type TestType struct {
	Name string `json:"name"`
}

// DuplicateFinding is the prefetched target of a duplicate link
type DuplicateFinding struct {
	Active   bool   `json:"active"`
	Severity string `json:"severity"`
}

// FindingsPage is one page of the findings listing
type FindingsPage struct {
	Results  []Finding `json:"results"`
	Prefetch struct {
		DuplicateFinding map[string]DuplicateFinding `json:"duplicate_finding"`
	} `json:"prefetch"`
}

// FindingsQuery filters the findings listing
type FindingsQuery struct {
	TestTags      []string
	TestIDIn      []int64
	Active        *bool
	Duplicate     *bool
	RelatedFields bool
	Prefetch      []string
	Limit         int
}

// ListProductTypes lists product types by exact name
func (c *DefectDojoClient) ListProductTypes(ctx context.Context, name string) ([]IDItem, error) {
	var page struct {
		Results []IDItem `json:"results"`
	}
	query := url.Values{"name": {name}}
	if err := c.getJSON(ctx, "/api/v2/product_types/", query, &page); err != nil {
		return nil, err
	}
	return filterByName(page.Results, name), nil
}

// CreateProductType creates a product type and returns its id
func (c *DefectDojoClient) CreateProductType(ctx context.Context, name string) (int64, error) {
	var created IDItem
	if err := c.postJSON(ctx, "/api/v2/product_types/", map[string]any{"name": name}, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// ListProducts lists products by exact name
func (c *DefectDojoClient) ListProducts(ctx context.Context, name string) ([]Product, error) {
	var page struct {
		Results []Product `json:"results"`
	}
	query := url.Values{"name": {name}}
	if err := c.getJSON(ctx, "/api/v2/products/", query, &page); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(page.Results))
	for _, product := range page.Results {
		if product.Name == name {
			products = append(products, product)
		}
	}
	return products, nil
}

// CreateProduct creates a product and returns its id
func (c *DefectDojoClient) CreateProduct(ctx context.Context, name, description string, prodTypeID int64) (int64, error) {
	var created Product
	body := map[string]any{
		"name":        name,
		"description": description,
		"prod_type":   prodTypeID,
	}
	if err := c.postJSON(ctx, "/api/v2/products/", body, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// ListEngagements lists engagements by exact name
func (c *DefectDojoClient) ListEngagements(ctx context.Context, name string) ([]Engagement, error) {
	var page struct {
		Results []Engagement `json:"results"`
	}
	query := url.Values{"name": {name}}
	if err := c.getJSON(ctx, "/api/v2/engagements/", query, &page); err != nil {
		return nil, err
	}
	engagements := make([]Engagement, 0, len(page.Results))
	for _, engagement := range page.Results {
		if engagement.Name == name {
			engagements = append(engagements, engagement)
		}
	}
	return engagements, nil
}

// CreateEngagement creates an engagement
func (c *DefectDojoClient) CreateEngagement(ctx context.Context, req EngagementRequest) (*Engagement, error) {
	var created Engagement
	if err := c.postJSON(ctx, "/api/v2/engagements/", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ImportScan uploads a scan report into an engagement and returns the
// created test id.
func (c *DefectDojoClient) ImportScan(
	ctx context.Context,
	engagementID int64,
	scanType string,
	filename string,
	report []byte,
	tag string,
	minimumSeverity string,
) (int64, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	fields := map[string]string{
		"engagement":         strconv.FormatInt(engagementID, 10),
		"scan_type":          scanType,
		"active":             "true",
		"verified":           "false",
		"close_old_findings": "false",
		"skip_duplicates":    "false",
		"scan_date":          time.Now().Format("2006-01-02"),
		"minimum_severity":   minimumSeverity,
		"tags":               tag,
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return 0, fmt.Errorf("write form field %s: %w", key, err)
		}
	}

	file, err := form.CreateFormFile("file", filename)
	if err != nil {
		return 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := file.Write(report); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}
	if err := form.Close(); err != nil {
		return 0, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/import-scan/", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	var created struct {
		TestID int64 `json:"test_id"`
		Test   int64 `json:"test"`
	}
	if err := c.do(req, &created); err != nil {
		return 0, err
	}
	if created.TestID != 0 {
		return created.TestID, nil
	}
	return created.Test, nil
}

// GetTest fetches a test
func (c *DefectDojoClient) GetTest(ctx context.Context, testID int64) (*Test, error) {
	var test Test
	path := fmt.Sprintf("/api/v2/tests/%d/", testID)
	if err := c.getJSON(ctx, path, nil, &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// ListFindings lists findings with the given filters
func (c *DefectDojoClient) ListFindings(ctx context.Context, q FindingsQuery) (*FindingsPage, error) {
	query := url.Values{}
	if len(q.TestTags) > 0 {
		query.Set("test__tags", strings.Join(q.TestTags, ","))
	}
	if len(q.TestIDIn) > 0 {
		ids := make([]string, 0, len(q.TestIDIn))
		for _, id := range q.TestIDIn {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		query.Set("test", strings.Join(ids, ","))
	}
	if q.Active != nil {
		query.Set("active", strconv.FormatBool(*q.Active))
	}
	if q.Duplicate != nil {
		query.Set("duplicate", strconv.FormatBool(*q.Duplicate))
	}
	if q.RelatedFields {
		query.Set("related_fields", "true")
	}
	if len(q.Prefetch) > 0 {
		query.Set("prefetch", strings.Join(q.Prefetch, ","))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var page FindingsPage
	if err := c.getJSON(ctx, "/api/v2/findings/", query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *DefectDojoClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	return c.do(req, out)
}

func (c *DefectDojoClient) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes a request and decodes the JSON response. Non-2xx responses
// and undecodable bodies are runtime errors; callers never see partial
// data.
func (c *DefectDojoClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return secerr.Wrap(secerr.KindRuntime, "defectdojo request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return secerr.Wrap(secerr.KindRuntime, "read defectdojo response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error("defectdojo error response",
			"url", req.URL.Path,
			"status", resp.StatusCode,
			"body", truncate(string(data), 512))
		return secerr.Newf(secerr.KindRuntime, "defectdojo returned status %d for %s", resp.StatusCode, req.URL.Path)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return secerr.Wrap(secerr.KindRuntime, "decode defectdojo response", err)
	}
	return nil
}

func filterByName(items []IDItem, name string) []IDItem {
	filtered := make([]IDItem, 0, len(items))
	for _, item := range items {
		if item.Name == name {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
