package providers

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoData signalisiert, dass die Registry für ein Element keine verwertbaren Daten geliefert hat
// (Timeout, Nicht-2xx-Status, fehlendes Modul). Aufrufer behandeln das als "keine Daten", nicht als Abbruch.
var ErrNoData = errors.New("no data from registry")

// Registry ist das Interface, das jede Studien-Registry (z.B. ClinicalTrials.gov) implementieren muss.
type Registry interface {
	// SearchStudies sucht Studien zu einer Indikation und gibt die Studiendokumente unverändert zurück.
	SearchStudies(ctx context.Context, condition string) ([]json.RawMessage, error)

	// FetchAdverseEvents holt das Adverse-Events-Modul einer einzelnen Studie unverändert.
	FetchAdverseEvents(ctx context.Context, nctID string) (json.RawMessage, error)

	// Name gibt den eindeutigen Namen der Registry zurück (z.B. "clinicaltrials").
	Name() string

	// APIVersion gibt die abgefragte API-Version für die Herkunftsdaten zurück (z.B. "v2").
	APIVersion() string
}
