package design

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sample() *Dense {
	nan := math.NaN()
	return &Dense{
		Columns: []string{"trans_x", "face", "house"},
		Rows: [][]float64{
			{nan, 1, 0},
			{2, 0, 1},
			{4, 1, 1},
		},
		Entities:  map[string]string{"subject": "01", "run": "1", "task": "emoreg"},
		Confounds: map[string]bool{"trans_x": true},
	}
}

func TestMeanImputer(t *testing.T) {
	d := sample()
	got, err := MeanImputer{}.Impute(d)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := got.Column("trans_x")
	if diff := cmp.Diff([]float64{3, 2, 4}, col); diff != "" {
		t.Errorf("trans_x (-want +got):\n%s", diff)
	}
	if !math.IsNaN(d.Rows[0][0]) {
		t.Error("input matrix was modified")
	}
}

func TestMeanImputer_AllMissing(t *testing.T) {
	nan := math.NaN()
	d := &Dense{
		Columns:   []string{"fd", "face"},
		Rows:      [][]float64{{nan, nan}, {nan, 1}},
		Confounds: map[string]bool{"fd": true},
	}
	got, err := MeanImputer{}.Impute(d)
	if err != nil {
		t.Fatal(err)
	}
	fd, _ := got.Column("fd")
	if diff := cmp.Diff([]float64{0, 0}, fd); diff != "" {
		t.Errorf("fd (-want +got):\n%s", diff)
	}
	face, _ := got.Column("face")
	if !math.IsNaN(face[0]) {
		t.Error("non-confound column should not be imputed")
	}
}

func TestInterestFirst(t *testing.T) {
	tests := []struct {
		name     string
		interest []string
		want     []string
	}{
		{"declared order", []string{"house", "face"}, []string{"house", "face", "trans_x"}},
		{"absent skipped", []string{"missing", "face"}, []string{"face", "trans_x", "house"}},
		{"no interest", nil, []string{"trans_x", "face", "house"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := MeanImputer{}.Impute(sample())
			got, err := InterestFirst{}.Sort(d, tt.interest)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got.Columns); diff != "" {
				t.Fatalf("columns (-want +got):\n%s", diff)
			}
			for _, name := range d.Columns {
				before, _ := d.Column(name)
				after, _ := got.Column(name)
				if diff := cmp.Diff(before, after); diff != "" {
					t.Errorf("column %s values changed:\n%s", name, diff)
				}
			}
		})
	}
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := sample().WriteTSV(&buf); err != nil {
		t.Fatal(err)
	}
	want := "trans_x\tface\thouse\n\t1\t0\n2\t0\t1\n4\t1\t1\n"
	if buf.String() != want {
		t.Errorf("TSV =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestValidate_RaggedRows(t *testing.T) {
	d := &Dense{Columns: []string{"a", "b"}, Rows: [][]float64{{1}}}
	if err := d.Validate(); err == nil {
		t.Fatal("expected error for ragged row")
	}
}

func TestCorrelation(t *testing.T) {
	d := &Dense{
		Columns: []string{"a", "b", "c", "k"},
		Rows: [][]float64{
			{1, 2, 3, 5},
			{2, 4, 2, 5},
			{3, 6, 1, 5},
		},
	}
	r := Correlation(d)
	approx := func(got, want float64) bool { return math.Abs(got-want) < 1e-12 }
	if !approx(r[0][1], 1) {
		t.Errorf("corr(a,b) = %v, want 1", r[0][1])
	}
	if !approx(r[0][2], -1) {
		t.Errorf("corr(a,c) = %v, want -1", r[0][2])
	}
	if !math.IsNaN(r[0][3]) {
		t.Errorf("corr with constant column = %v, want NaN", r[0][3])
	}
}
