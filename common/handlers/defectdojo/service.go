package defectdojo

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/secbot-io/secbot/common/clients"
	"github.com/secbot-io/secbot/common/gitlab"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/secerr"
)

// scanTypeByHandler maps handler names to DefectDojo scan types.
var scanTypeByHandler = map[string]string{
	"gitleaks": "Gitleaks Scan",
}

const (
	pollAttempts = 30
	pollInterval = 10 * time.Second

	// The vendor deduplicates findings asynchronously after the import
	// completes; querying earlier returns soon-to-be duplicates as new.
	dedupWait = 120 * time.Second

	minimumSeverity = "High"
	findingsLimit   = 500
)

// uploadService drives one artifact through the vendor's import flow
type uploadService struct {
	client *clients.DefectDojoClient
	log    *logger.Logger
}

func newUploadService(client *clients.DefectDojoClient, log *logger.Logger) *uploadService {
	return &uploadService{client: client, log: log}
}

// sendResult uploads a scan artifact and returns the created test id plus
// the findings the import produced.
func (s *uploadService) sendResult(
	ctx context.Context,
	creds Credentials,
	event *gitlab.EventData,
	scanResult *models.ScanResult,
) (int64, []models.OutputFinding, error) {
	engagementID, err := s.prepare(ctx, creds, event)
	if err != nil {
		return 0, nil, err
	}

	scanType := scanTypeByHandler[scanResult.HandlerName]
	if scanType == "" {
		scanType = scanResult.HandlerName
	}

	testID, err := s.client.ImportScan(
		ctx,
		engagementID,
		scanType,
		scanResult.File.Filename(),
		scanResult.File.Content,
		event.Commit.ID,
		minimumSeverity,
	)
	if err != nil {
		return 0, nil, err
	}

	if err := s.awaitImport(ctx, testID); err != nil {
		return 0, nil, err
	}

	findings, err := s.activeFindings(ctx, creds, testID)
	if err != nil {
		return 0, nil, err
	}
	return testID, findings, nil
}

// prepare ensures the product type, product and engagement hierarchy
// exists for the event and returns the engagement id.
func (s *uploadService) prepare(ctx context.Context, creds Credentials, event *gitlab.EventData) (int64, error) {
	webURL := event.Project.WebURL
	productType, err := hostOf(webURL)
	if err != nil {
		return 0, err
	}
	productName := event.Project.PathWithNamespace

	productTypeID, err := s.ensureProductType(ctx, productType)
	if err != nil {
		return 0, err
	}

	productID, err := s.ensureProduct(ctx, productName, webURL, productTypeID)
	if err != nil {
		return 0, err
	}

	return s.ensureEngagement(ctx, creds, event, productID)
}

func (s *uploadService) ensureProductType(ctx context.Context, name string) (int64, error) {
	existing, err := s.client.ListProductTypes(ctx, name)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		s.log.Info("product type exists", "name", name, "id", existing[0].ID)
		return existing[0].ID, nil
	}

	s.log.Info("creating product type", "name", name)
	return s.client.CreateProductType(ctx, name)
}

func (s *uploadService) ensureProduct(ctx context.Context, name, description string, productTypeID int64) (int64, error) {
	existing, err := s.client.ListProducts(ctx, name)
	if err != nil {
		return 0, err
	}
	for _, product := range existing {
		if product.ProdType == productTypeID {
			s.log.Info("product exists", "name", name, "id", product.ID)
			return product.ID, nil
		}
	}

	s.log.Info("creating product", "name", name)
	return s.client.CreateProduct(ctx, name, description, productTypeID)
}

func (s *uploadService) ensureEngagement(ctx context.Context, creds Credentials, event *gitlab.EventData, productID int64) (int64, error) {
	name, err := pathOf(event.Path)
	if err != nil {
		return 0, err
	}

	existing, err := s.client.ListEngagements(ctx, name)
	if err != nil {
		return 0, err
	}
	for _, engagement := range existing {
		if engagement.Product == productID {
			s.log.Info("engagement exists", "name", name, "id", engagement.ID)
			return engagement.ID, nil
		}
	}

	leadID, err := creds.leadID()
	if err != nil {
		return 0, err
	}

	today := time.Now().Format("2006-01-02")
	created, err := s.client.CreateEngagement(ctx, clients.EngagementRequest{
		Name:                      name,
		Product:                   productID,
		Lead:                      leadID,
		Status:                    "Completed",
		TargetStart:               today,
		TargetEnd:                 today,
		EngagementType:            "CI/CD",
		DeduplicationOnEngagement: false,
		BuildID:                   name,
		CommitHash:                event.Commit.ID,
		Description:               "Latest commit by " + event.Commit.Author.Email,
		SourceCodeManagementURI:   strings.Replace(event.Commit.URL, "/-/commit/", "/-/blob/", 1),
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("engagement created", "name", created.Name, "id", created.ID)
	return created.ID, nil
}

// awaitImport polls the created test until the vendor finished processing
// the upload. Bounded: after the last attempt the upload counts as failed.
func (s *uploadService) awaitImport(ctx context.Context, testID int64) error {
	for attempt := 0; attempt < pollAttempts; attempt++ {
		test, err := s.client.GetTest(ctx, testID)
		if err != nil {
			return err
		}
		if test.PercentComplete == 100 {
			// Deduplication still runs after the import reports done.
			select {
			case <-time.After(dedupWait):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return secerr.Newf(secerr.KindRuntime, "took too much time to handle the output, test_id=%d", testID)
}

// activeFindings lists the new, non-duplicate findings of a test
func (s *uploadService) activeFindings(ctx context.Context, creds Credentials, testID int64) ([]models.OutputFinding, error) {
	active := true
	duplicate := false
	page, err := s.client.ListFindings(ctx, clients.FindingsQuery{
		TestIDIn:  []int64{testID},
		Active:    &active,
		Duplicate: &duplicate,
		Limit:     findingsLimit,
	})
	if err != nil {
		return nil, err
	}

	findings := make([]models.OutputFinding, 0, len(page.Results))
	for _, finding := range page.Results {
		findings = append(findings, models.OutputFinding{
			Title:    finding.Title,
			Severity: models.Severity(finding.Severity),
			URL:      findingURL(creds.URL, finding.ID),
		})
	}
	return findings, nil
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", secerr.Newf(secerr.KindRuntime, "cannot parse url %q", raw)
	}
	return u.Hostname(), nil
}

func pathOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", secerr.Newf(secerr.KindRuntime, "cannot parse url %q", raw)
	}
	return u.Path, nil
}
