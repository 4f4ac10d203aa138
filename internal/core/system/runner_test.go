package system

import (
	"reflect"
	"testing"
	"time"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase           { return r.phase }
func (r recorder) Update(_ time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerOrdersByPhase(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"output", PhaseOutput, &log})
	r.Register(recorder{"input", PhaseInput, &log})
	r.Register(recorder{"sweep", PhaseUpdate, &log})
	r.Register(recorder{"input2", PhaseInput, &log})

	r.Tick(time.Millisecond)
	want := []string{"input", "input2", "sweep", "output"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("order = %v, want %v", log, want)
	}

	log = nil
	r.TickPhase(PhaseInput, time.Millisecond)
	if !reflect.DeepEqual(log, []string{"input", "input2"}) {
		t.Fatalf("TickPhase ran %v", log)
	}
}
