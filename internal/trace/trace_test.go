package trace

import "testing"

func TestAddAndLast(t *testing.T) {
	var tr Trace
	if _, ok := tr.Last(); ok {
		t.Fatal("expected no entry on empty trace")
	}

	tr.Add(Entry{Stage: "area", Status: StatusEmpty})
	tr.Add(Entry{Stage: "geo", Status: StatusOK, Count: 3})

	last, ok := tr.Last()
	if !ok || last.Stage != "geo" || last.Count != 3 {
		t.Errorf("unexpected last entry %+v", last)
	}
}

func TestTaggedCopies(t *testing.T) {
	tr := Trace{{Stage: "area"}, {Stage: "geo"}}

	tagged := tr.Tagged("12")
	for _, e := range tagged {
		if e.ContentType != "12" {
			t.Errorf("expected content type on %+v", e)
		}
	}
	if tr[0].ContentType != "" {
		t.Error("Tagged must not modify the receiver")
	}
}
