package oracle

import (
	"context"
	"errors"
	"testing"
)

type fakeGen struct {
	outputs []string
	errs    []error
	calls   int
}

func (f *fakeGen) Generate(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.outputs) {
		return f.outputs[i], nil
	}
	return "", ErrNoCandidates
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		want    Score
		wantErr bool
	}{
		{"bare object", `{"our_score": 13, "enemy_score": 10}`, Score{13, 10}, false},
		{"prose around", "Here is the result:\n{\"our_score\": 2, \"enemy_score\": 1}\nGood luck!", Score{2, 1}, false},
		{"code fence", "```json\n{\"our_score\": 0, \"enemy_score\": 13}\n```", Score{0, 13}, false},
		{"no braces", "I could not read the scoreboard.", Score{}, true},
		{"negative score", `{"our_score": -1, "enemy_score": 3}`, Score{}, true},
		{"not json", "{this is not json}", Score{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseScore(tc.text)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseScore(%q): expected error, got %+v", tc.text, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseScore(%q): %v", tc.text, err)
			}
			if got != tc.want {
				t.Fatalf("parseScore(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestExtractJSONWidestSpan(t *testing.T) {
	raw, ok := extractJSON(`noise {"a": {"b": 1}} tail`)
	if !ok {
		t.Fatal("expected a json span")
	}
	if raw != `{"a": {"b": 1}}` {
		t.Fatalf("got %q", raw)
	}
}

func TestExtractSeriesSkipsUnreadable(t *testing.T) {
	gen := &fakeGen{
		outputs: []string{
			`{"our_score": 13, "enemy_score": 7}`,
			"",
			`{"our_score": 13, "enemy_score": 11}`,
		},
		errs: []error{nil, errors.New("model timeout"), nil},
	}
	e := NewExtractor(gen)
	e.delay = 0

	imgs := []Image{
		{Filename: "map1.png", Data: []byte{1}},
		{Filename: "map2.png", Data: []byte{2}},
		{Filename: "map3.png", Data: []byte{3}},
	}
	scores, dropped, err := e.ExtractSeries(context.Background(), imgs)
	if err != nil {
		t.Fatalf("ExtractSeries: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if len(scores) != 2 || scores[0] != (Score{13, 7}) || scores[1] != (Score{13, 11}) {
		t.Fatalf("scores = %+v", scores)
	}
}

func TestExtractSeriesAllFailed(t *testing.T) {
	gen := &fakeGen{errs: []error{errors.New("boom"), errors.New("boom")}}
	e := NewExtractor(gen)
	e.delay = 0

	_, dropped, err := e.ExtractSeries(context.Background(), []Image{
		{Filename: "a.png"}, {Filename: "b.png"},
	})
	if !errors.Is(err, ErrNoScore) {
		t.Fatalf("err = %v, want ErrNoScore", err)
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
}

func TestMimeForFilename(t *testing.T) {
	cases := map[string]string{
		"shot.PNG":   "image/png",
		"shot.jpeg":  "image/jpeg",
		"clip.mp4":   "video/mp4",
		"clip.weird": "application/octet-stream",
	}
	for name, want := range cases {
		if got := MimeForFilename(name); got != want {
			t.Errorf("MimeForFilename(%q) = %q, want %q", name, got, want)
		}
	}
}
