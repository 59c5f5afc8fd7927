package level

import (
	"testing"
)

const sampleLevel = `{
	"gravity": [0, -20],
	"spawn": [1, 2],
	"objects": [
		{
			"type": "circle",
			"physics": {"density": 1},
			"radius": 1,
			"pos": [0, 5],
			"restitution": 0.2,
			"friction": 0.5,
			"colour": [255, 0, 0],
			"lethal": false,
			"groups": ["ball"]
		},
		{
			"type": "polygon",
			"points": [[0,0],[4,0],[4,1],[0,1]],
			"restitution": 0,
			"friction": 1,
			"colour": [0, 255, 0],
			"lethal": true,
			"checkpoint": {"index": 0},
			"trigger": "on_touch"
		}
	],
	"constraints": [
		{"type": "pivot", "a": 0, "b": 1, "local_a": [0,0], "local_b": [0,0]}
	]
}`

func TestDecodeParsesObjectsAndConstraints(t *testing.T) {
	f, err := Decode([]byte(sampleLevel))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.Objects) != 2 {
		t.Fatalf("len(Objects) = %d, want 2", len(f.Objects))
	}
	if len(f.Constraints) != 1 {
		t.Fatalf("len(Constraints) = %d, want 1", len(f.Constraints))
	}
}

func TestLoadBuildsDynamicAndStaticObjects(t *testing.T) {
	f, err := Decode([]byte(sampleLevel))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	w, records, constraints, err := Load(f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(constraints) != 1 {
		t.Errorf("len(constraints) = %d, want 1", len(constraints))
	}

	objs := w.Arena.Objects()
	for _, o := range objs {
		if _, ok := records[o.ID]; !ok {
			t.Errorf("records missing an entry for object %d", o.ID)
		}
	}
	if len(objs) != 2 {
		t.Fatalf("len(objects) = %d, want 2", len(objs))
	}

	var foundCircle, foundPolygon bool
	for _, o := range objs {
		if o.Lethal {
			foundPolygon = true
			if !o.IsStatic() {
				t.Errorf("polygon object %d should be static (no density given), got dynamic", o.ID)
			}
			if o.Trigger != "on_touch" {
				t.Errorf("lethal polygon object should carry its trigger name, got %q", o.Trigger)
			}
			if o.Checkpoint == nil || o.Checkpoint.Index != 0 {
				t.Errorf("polygon object should carry checkpoint{0}, got %+v", o.Checkpoint)
			}
		} else {
			foundCircle = true
			if o.IsStatic() {
				t.Errorf("circle object %d should be dynamic (density given), got static", o.ID)
			}
			if !o.InGroup("ball") {
				t.Error("circle object should be in group \"ball\"")
			}
		}
	}
	if !foundCircle || !foundPolygon {
		t.Error("expected to find both a circle and a polygon object")
	}

	if w.Gravity.Y != -20 {
		t.Errorf("Gravity.Y = %v, want -20", w.Gravity.Y)
	}
}

func TestLoadResolvesConstraintByIndex(t *testing.T) {
	f, err := Decode([]byte(sampleLevel))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	w, _, _, err := Load(f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var total int
	for _, o := range w.Arena.Objects() {
		total += len(o.Constraints)
	}
	if total != 2 {
		t.Errorf("total attached constraints across both endpoints = %d, want 2", total)
	}
}

func TestLoadRejectsOutOfRangeConstraint(t *testing.T) {
	f, err := Decode([]byte(`{"objects":[{"type":"circle","radius":1,"pos":[0,0],"colour":[0,0,0]}],"constraints":[{"type":"pivot","a":0,"b":5}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, _, _, err := Load(f); err == nil {
		t.Error("expected an error for a constraint referencing an out-of-range object index")
	}
}

func TestLoadRejectsUnknownObjectType(t *testing.T) {
	f, err := Decode([]byte(`{"objects":[{"type":"triangle"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, _, _, err := Load(f); err == nil {
		t.Error("expected an error for an unrecognized object type")
	}
}
