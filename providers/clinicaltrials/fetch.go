package clinicaltrials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trial-etl/config"
	"trial-etl/providers"
)

const (
	studyFields = "NCTId,BriefTitle,Phase,Condition,Intervention"
	aeFields    = "protocolSection.identificationModule.nctId|resultsSection.adverseEventsModule"
	userAgent   = "trial-etl/1.0 (+https://clinicaltrials.gov/data-api)"

	defaultAPIVersion = "v2"
)

// userAgentTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type userAgentTransport struct {
	Transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return t.Transport.RoundTrip(req)
}

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit ClinicalTrials.gov kapselt.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	client *http.Client
}

// NewFetcher erstellt eine neue Instanz des ClinicalTrials.gov-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		client: &http.Client{
			Timeout:   cfg.RegistryTimeout,
			Transport: &userAgentTransport{Transport: http.DefaultTransport},
		},
	}
}

// Name gibt den Namen der Registry zurück.
func (f *Fetcher) Name() string {
	return "clinicaltrials"
}

// APIVersion leitet die Version aus dem letzten Pfadsegment der Basis-URL ab (".../api/v2" -> "v2").
func (f *Fetcher) APIVersion() string {
	u, err := url.Parse(f.Config.RegistryBaseURL)
	if err == nil {
		if last := path.Base(strings.TrimSuffix(u.Path, "/")); strings.HasPrefix(last, "v") {
			return last
		}
	}
	return defaultAPIVersion
}

// SearchStudies holt die Studienliste für eine Indikation, Seite für Seite bis REGISTRY_MAX_PAGES.
func (f *Fetcher) SearchStudies(ctx context.Context, condition string) ([]json.RawMessage, error) {
	log := f.Logger.With(zap.String("condition", condition))
	log.Info("Starte Studiensuche auf ClinicalTrials.gov.")

	var all []json.RawMessage
	pageToken := ""
	for page := 0; page < f.Config.RegistryMaxPages; page++ {
		searchURL := f.buildStudiesURL(condition, pageToken)
		log.Debug("Rufe Studies-URL auf", zap.String("url", searchURL), zap.Int("page", page))

		var resp StudiesResponse
		if err := f.getJSON(ctx, searchURL, &resp); err != nil {
			log.Warn("Studiensuche fehlgeschlagen", zap.Int("page", page), zap.Error(err))
			if len(all) > 0 {
				// Bereits geladene Seiten bleiben gültig.
				break
			}
			return nil, err
		}
		all = append(all, resp.Studies...)

		if resp.NextPageToken == "" || len(resp.Studies) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	log.Info("Studiensuche abgeschlossen", zap.Int("total_studies", len(all)))
	return all, nil
}

// FetchAdverseEvents holt das adverseEventsModule einer Studie. Fehlt es, wird ErrNoData zurückgegeben.
func (f *Fetcher) FetchAdverseEvents(ctx context.Context, nctID string) (json.RawMessage, error) {
	aeURL := f.buildAdverseEventsURL(nctID)
	f.Logger.Debug("Rufe Adverse-Events-URL auf", zap.String("nct_id", nctID), zap.String("url", aeURL))

	var resp StudiesResponse
	if err := f.getJSON(ctx, aeURL, &resp); err != nil {
		return nil, err
	}
	if len(resp.Studies) == 0 {
		return nil, fmt.Errorf("keine Studie %s in der Antwort: %w", nctID, providers.ErrNoData)
	}

	var doc StudyDocument
	if err := json.Unmarshal(resp.Studies[0], &doc); err != nil {
		return nil, fmt.Errorf("studiendokument %s nicht lesbar: %w", nctID, err)
	}
	if doc.ResultsSection == nil || isEmptyJSON(doc.ResultsSection.AdverseEventsModule) {
		return nil, fmt.Errorf("kein adverseEventsModule für %s: %w", nctID, providers.ErrNoData)
	}
	return doc.ResultsSection.AdverseEventsModule, nil
}

// getJSON führt einen GET aus und dekodiert die Antwort. Nicht-2xx und Transportfehler werden zu ErrNoData.
func (f *Fetcher) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("anfrage fehlgeschlagen: %v: %w", err, providers.ErrNoData)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		f.Logger.Warn("Registry-API hat Nicht-2xx-Status zurückgegeben",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return fmt.Errorf("status %d: %w", resp.StatusCode, providers.ErrNoData)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("antwort nicht dekodierbar: %v: %w", err, providers.ErrNoData)
	}
	return nil
}

// buildStudiesURL baut die URL für die Studiensuche.
func (f *Fetcher) buildStudiesURL(condition, pageToken string) string {
	params := url.Values{}
	params.Set("query.cond", condition)
	if f.Config.RegistryAggFilters != "" {
		params.Set("aggFilters", f.Config.RegistryAggFilters)
	}
	params.Set("fields", studyFields)
	params.Set("pageSize", strconv.Itoa(f.Config.RegistryPageSize))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	return f.Config.RegistryBaseURL + "/studies?" + params.Encode()
}

// buildAdverseEventsURL baut die URL für das Adverse-Events-Modul einer Studie.
func (f *Fetcher) buildAdverseEventsURL(nctID string) string {
	params := url.Values{}
	params.Set("filter.ids", nctID)
	params.Set("fields", aeFields)
	params.Set("pageSize", strconv.Itoa(f.Config.RegistryPageSize))
	return f.Config.RegistryBaseURL + "/studies?" + params.Encode()
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}
