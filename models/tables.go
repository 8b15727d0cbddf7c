package models

// Tables bündelt die fünf flachen Datensätze eines Ingestion-Laufs.
type Tables struct {
	Studies            []Study
	Conditions         []Condition
	Phases             []Phase
	AdverseEvents      []AdverseEvent
	AdverseEventGroups []AdverseEventGroup
	DataSources        []DataSource
}

// Counts liefert die Zeilenzahl je Tabelle, keyed nach Tabellenname.
func (t Tables) Counts() map[string]int {
	return map[string]int{
		Study{}.TableName():             len(t.Studies),
		Condition{}.TableName():         len(t.Conditions),
		Phase{}.TableName():             len(t.Phases),
		AdverseEvent{}.TableName():      len(t.AdverseEvents),
		AdverseEventGroup{}.TableName(): len(t.AdverseEventGroups),
		DataSource{}.TableName():        len(t.DataSources),
	}
}

// IntPtr ist ein kleiner Helfer für optionale Zählwerte.
func IntPtr(v int) *int {
	return &v
}
