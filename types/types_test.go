package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenCandidates(t *testing.T) {
	reports := []ReportWithImages{
		{ID: "r1", Images: []ComplainantImage{
			{PersonID: "p1", URL: "http://img/1.jpg"},
			{PersonID: "p2", URL: ""},
			{PersonID: "p3", URL: "http://img/3.jpg"},
		}},
		{ID: "r2"},
		{ID: "r3", Images: []ComplainantImage{{PersonID: "p4", URL: "http://img/4.jpg"}}},
	}

	got := FlattenCandidates(reports)

	assert.Equal(t, []Candidate{
		{ReportID: "r1", PersonID: "p1", ImageURL: "http://img/1.jpg"},
		{ReportID: "r1", PersonID: "p3", ImageURL: "http://img/3.jpg"},
		{ReportID: "r3", PersonID: "p4", ImageURL: "http://img/4.jpg"},
	}, got)
	assert.Empty(t, FlattenCandidates(nil))
}

func TestReportHelpers(t *testing.T) {
	r := &Report{ID: "r1", Complainants: []Complainant{
		{PersonID: "alice", Image: "http://img/a.jpg"},
		{PersonID: "bob", Image: "http://img/b.jpg"},
	}}

	assert.True(t, r.HasComplainant("bob"))
	assert.False(t, r.HasComplainant("carol"))

	w := r.WithImages()
	assert.Equal(t, "r1", w.ID)
	assert.Len(t, w.Images, 2)
	assert.Equal(t, "http://img/b.jpg", w.Images[1].URL)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")

	var decodeErr error = &ImageDecodeError{Source: "x.jpg", Err: cause}
	assert.ErrorIs(t, decodeErr, cause)
	assert.Contains(t, decodeErr.Error(), "x.jpg")

	var fetchErr error = &FetchError{URL: "http://h/x", StatusCode: 404}
	assert.Equal(t, "fetch http://h/x: HTTP 404", fetchErr.Error())

	var loadErr error = &BackboneLoadError{ModelPath: "m.onnx", Err: cause}
	assert.ErrorIs(t, loadErr, cause)

	dim := &DimensionMismatchError{Got: 3, Want: 4}
	assert.Equal(t, "embedding dimension mismatch: got 3, want 4", dim.Error())
}
