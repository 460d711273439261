package trace

// Status values recorded on trace entries.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
	StatusBudget = "budget"
	StatusPanic  = "panic"
)

// Entry is one diagnostic record of an attempted stage.
type Entry struct {
	Stage       string `json:"stage"`
	ContentType string `json:"contentType,omitempty"`
	Variant     string `json:"variant,omitempty"`
	Status      string `json:"status"`
	HTTPStatus  int    `json:"httpStatus,omitempty"`
	ResultCode  string `json:"resultCode,omitempty"`
	Count       int    `json:"count"`
	Total       int    `json:"total,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Trace is an ordered list of entries.
type Trace []Entry

// Add appends e.
func (t *Trace) Add(e Entry) {
	*t = append(*t, e)
}

// Last returns the most recent entry, if any.
func (t Trace) Last() (Entry, bool) {
	if len(t) == 0 {
		return Entry{}, false
	}
	return t[len(t)-1], true
}

// Tagged returns a copy of t with ContentType set on every entry.
func (t Trace) Tagged(contentType string) Trace {
	out := make(Trace, len(t))
	for i, e := range t {
		e.ContentType = contentType
		out[i] = e
	}
	return out
}
