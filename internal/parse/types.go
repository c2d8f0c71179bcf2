package parse

// Format identifies which parsing strategy applies to a blotter's text.
type Format string

const (
	FormatGallatin Format = "gallatin"
	FormatHelena   Format = "helena"
	FormatHavre    Format = "havre"
	FormatGeneric  Format = "generic"
)

// CommandLog is one timestamped narrative line inside an incident's timeline.
// Entries keep the order they appear in the source text.
type CommandLog struct {
	Timestamp string `json:"timestamp"`
	Officer   string `json:"officer"`
	Entry     string `json:"entry"`
}

// Record is one incident parsed out of a blotter. Fields the source text does
// not provide are empty strings, never placeholder values.
type Record struct {
	CFSNumber    string       `json:"cfs_number"`
	Date         string       `json:"date"`
	Time         string       `json:"time"`
	IncidentType string       `json:"incident_type"`
	Location     string       `json:"location"`
	Details      string       `json:"details"`
	County       string       `json:"county"`
	Officer      string       `json:"officer"`
	CommandLogs  []CommandLog `json:"command_logs"`
}

// TypeRule maps description keywords to a canonical incident type label.
// Rules are evaluated in order and the first keyword hit wins.
type TypeRule struct {
	Keywords []string
	Label    string
}

// Config carries the anchor strings and keyword tables the detector and
// parsers match against. It is passed explicitly so individual formats can
// be tuned and tested in isolation.
type Config struct {
	// Substring anchors per known format, matched case-insensitively.
	GallatinAnchors []string
	HelenaAnchors   []string
	HavreAnchors    []string

	// StreetSuffixes mark the location/incident-type boundary in Gallatin
	// header lines when no column gap survives extraction.
	StreetSuffixes []string

	// HelenaTypes classifies free-text descriptions into incident types.
	HelenaTypes []TypeRule
	// FallbackType labels incidents no classification rule matches.
	FallbackType string

	DefaultHelenaLocation string
	DefaultHavreLocation  string

	// NarrativeMinLen filters trivial command-log entries out of details.
	NarrativeMinLen int
	// DispatchCodes are shorthand entries never used as narrative.
	DispatchCodes []string
}

// DefaultConfig returns the anchor and keyword tables for the supported
// Montana departments.
func DefaultConfig() Config {
	return Config{
		GallatinAnchors: []string{"GCSO", "Gallatin County"},
		HelenaAnchors:   []string{"Helena Police", "HPD Officers responded", "helenamt.gov"},
		HavreAnchors:    []string{"HAVRE POLICE"},
		StreetSuffixes: []string{
			"RD", "ROAD", "ST", "STREET", "AVE", "AVENUE", "DR", "DRIVE",
			"LN", "LANE", "CT", "COURT", "PL", "PLACE", "WAY", "BLVD",
			"BOULEVARD", "HWY", "HIGHWAY", "RTE", "ROUTE", "TRL", "TRAIL",
			"PKWY", "PARKWAY", "CIR", "CIRCLE", "LOOP", "GULCH",
		},
		HelenaTypes: []TypeRule{
			{Keywords: []string{"theft", "shoplift", "stolen"}, Label: "Theft"},
			{Keywords: []string{"assault"}, Label: "Assault"},
			{Keywords: []string{"domestic"}, Label: "Domestic Disturbance"},
			{Keywords: []string{"warrant"}, Label: "Warrant Arrest"},
			{Keywords: []string{"accident", "crash", "collision"}, Label: "Accident"},
			{Keywords: []string{"trespass"}, Label: "Trespassing"},
			{Keywords: []string{"drug", "marijuana", "mip", "narcotic"}, Label: "Drug/Narcotic"},
			{Keywords: []string{"disturbance", "disorderly"}, Label: "Disturbance"},
			{Keywords: []string{"protection order", "protective order"}, Label: "Protection Order"},
			{Keywords: []string{"welfare"}, Label: "Welfare Check"},
			{Keywords: []string{"suspicious"}, Label: "Suspicious Activity"},
			{Keywords: []string{"fraud"}, Label: "Fraud"},
			{Keywords: []string{"vehicle"}, Label: "Vehicle"},
		},
		FallbackType:          "Police Incident",
		DefaultHelenaLocation: "Helena, MT",
		DefaultHavreLocation:  "Havre, MT",
		NarrativeMinLen:       50,
		DispatchCodes:         []string{"CB1", "CB2", "NO ANSWER", "VM", "ADV"},
	}
}

// Parser applies format detection and format-specific parsing strategies.
type Parser struct {
	cfg Config
}

// New builds a Parser around the given tables.
func New(cfg Config) *Parser {
	return &Parser{cfg: cfg}
}
