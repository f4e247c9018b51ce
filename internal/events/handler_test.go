package events

import (
	"reflect"
	"testing"
)

func TestParseBreakpoints(t *testing.T) {
	tests := []struct {
		name    string
		raw     []interface{}
		want    []int
		wantErr bool
	}{
		{"empty", nil, []int{}, false},
		{"integers", []interface{}{float64(3), float64(17)}, []int{3, 17}, false},
		{"parsable strings", []interface{}{"4", "9"}, []int{4, 9}, false},
		{"mixed", []interface{}{float64(1), "2"}, []int{1, 2}, false},
		{"non-integer number", []interface{}{3.5}, nil, true},
		{"unparsable string", []interface{}{"seven"}, nil, true},
		{"wrong type", []interface{}{map[string]interface{}{}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBreakpoints(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseBreakpoints = %v, want %v", got, tt.want)
			}
		})
	}
}
