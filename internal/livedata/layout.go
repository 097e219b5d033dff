package livedata

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tcu-diag/internal/diag"
)

// FieldType is the wire type of a live-data field. All fields are little-endian.
type FieldType string

const (
	FieldTypeInt8   FieldType = "int8"
	FieldTypeUint8  FieldType = "uint8"
	FieldTypeInt16  FieldType = "int16"
	FieldTypeUint16 FieldType = "uint16"
	FieldTypeInt32  FieldType = "int32"
	FieldTypeUint32 FieldType = "uint32"
)

// Size returns the field's length in bytes, or 0 for an unknown type
func (t FieldType) Size() int {
	switch t {
	case FieldTypeInt8, FieldTypeUint8:
		return 1
	case FieldTypeInt16, FieldTypeUint16:
		return 2
	case FieldTypeInt32, FieldTypeUint32:
		return 4
	}
	return 0
}

// Field is one value inside a live-data payload
type Field struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type"`
	Offset int       `json:"byte_offset"`
	Unit   string    `json:"unit,omitempty"`
}

// Layout describes the payload returned for one identifier
type Layout struct {
	ID     uint8   `json:"id"`
	Name   string  `json:"name"`
	Length int     `json:"length"` // exact payload length after the echoed identifier
	Fields []Field `json:"fields"`
}

// NewLayout validates fields and derives the payload length from the
// furthest field end.
func NewLayout(id uint8, name string, fields []Field) (*Layout, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("layout 0x%02X: no fields", id)
	}

	l := &Layout{ID: id, Name: name, Fields: fields}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		size := f.Type.Size()
		if size == 0 {
			return nil, fmt.Errorf("layout 0x%02X: field %q has invalid type %q", id, f.Name, f.Type)
		}
		if f.Offset < 0 {
			return nil, fmt.Errorf("layout 0x%02X: field %q has negative offset", id, f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("layout 0x%02X: duplicate field %q", id, f.Name)
		}
		seen[f.Name] = true
		if end := f.Offset + size; end > l.Length {
			l.Length = end
		}
	}
	return l, nil
}

// packed lays fields out back to back from offset 0
func packed(id uint8, name string, fields ...Field) *Layout {
	offset := 0
	for i := range fields {
		fields[i].Offset = offset
		offset += fields[i].Type.Size()
	}
	l, err := NewLayout(id, name, fields)
	if err != nil {
		panic(err)
	}
	return l
}

// FieldNames returns the field names in payload order
func (l *Layout) FieldNames() []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = f.Name
	}
	return names
}

// Units returns the field units in payload order
func (l *Layout) Units() []string {
	units := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		units[i] = f.Unit
	}
	return units
}

// Decode parses a payload. A payload whose length differs from the
// layout fails with diag.ErrMalformedResponse.
func (l *Layout) Decode(payload []byte) ([]float64, error) {
	if len(payload) != l.Length {
		return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", diag.ErrMalformedResponse, l.Name, len(payload), l.Length)
	}

	values := make([]float64, len(l.Fields))
	for i, f := range l.Fields {
		b := payload[f.Offset : f.Offset+f.Type.Size()]

		switch f.Type {
		case FieldTypeInt8:
			values[i] = float64(int8(b[0]))
		case FieldTypeUint8:
			values[i] = float64(b[0])
		case FieldTypeInt16:
			values[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		case FieldTypeUint16:
			values[i] = float64(binary.LittleEndian.Uint16(b))
		case FieldTypeInt32:
			values[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case FieldTypeUint32:
			values[i] = float64(binary.LittleEndian.Uint32(b))
		}
	}
	return values, nil
}

// ParseFields parses field definitions in the form
// "name:type:offset,name2:type:offset", e.g. "rpm:uint16:0,temp:int8:2".
func ParseFields(spec string) ([]Field, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty field definition")
	}

	var fields []Field
	for _, def := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(def), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid field definition '%s', expected format: name:type:offset", def)
		}

		name := strings.TrimSpace(parts[0])
		fieldType := FieldType(strings.TrimSpace(parts[1]))
		if name == "" {
			return nil, fmt.Errorf("invalid field definition '%s': empty name", def)
		}
		if fieldType.Size() == 0 {
			return nil, fmt.Errorf("invalid field type '%s', must be one of: int8, uint8, int16, uint16, int32, uint32", parts[1])
		}

		offset, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || offset < 0 || offset > 255 {
			return nil, fmt.Errorf("invalid byte offset '%s', must be 0-255", parts[2])
		}

		fields = append(fields, Field{Name: name, Type: fieldType, Offset: offset})
	}
	return fields, nil
}

// Registry maps identifiers to layouts
type Registry struct {
	layouts map[uint8]*Layout
}

// NewRegistry returns a registry holding the built-in TCU layouts
func NewRegistry() *Registry {
	r := &Registry{layouts: make(map[uint8]*Layout)}
	for _, l := range builtinLayouts() {
		r.layouts[l.ID] = l
	}
	return r
}

// Register adds or replaces a layout
func (r *Registry) Register(l *Layout) {
	r.layouts[l.ID] = l
}

// Lookup returns the layout for id
func (r *Registry) Lookup(id uint8) (*Layout, bool) {
	l, ok := r.layouts[id]
	return l, ok
}

// Layouts returns every registered layout ordered by identifier
func (r *Registry) Layouts() []*Layout {
	out := make([]*Layout, 0, len(r.layouts))
	for _, l := range r.layouts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func u8(name, unit string) Field  { return Field{Name: name, Type: FieldTypeUint8, Unit: unit} }
func u16(name, unit string) Field { return Field{Name: name, Type: FieldTypeUint16, Unit: unit} }
func i16(name, unit string) Field { return Field{Name: name, Type: FieldTypeInt16, Unit: unit} }
func u32(name, unit string) Field { return Field{Name: name, Type: FieldTypeUint32, Unit: unit} }

// Identifiers reported by the TCU
const (
	GearboxSensors   uint8 = 0x20
	SolenoidStatus   uint8 = 0x21
	CanDataDump      uint8 = 0x22
	SysUsage         uint8 = 0x23
	PressureStatus   uint8 = 0x25
	ShiftMonitor     uint8 = 0x27
	ClutchSpeeds     uint8 = 0x30
	ClutchVelocities uint8 = 0x31
)

func builtinLayouts() []*Layout {
	return []*Layout{
		packed(GearboxSensors, "gearbox_sensors",
			u16("n2_rpm", "rpm"), u16("n3_rpm", "rpm"), u16("calculated_rpm", "rpm"),
			u16("calc_ratio", "x100"), u16("v_batt", "mV"), u32("atf_temp_c", "C"),
			u8("parking_lock", ""), u16("output_rpm", "rpm")),
		packed(SolenoidStatus, "solenoid_status",
			u16("spc_pwm", ""), u16("mpc_pwm", ""), u16("tcc_pwm", ""),
			u16("y3_pwm", ""), u16("y4_pwm", ""), u16("y5_pwm", ""),
			u16("spc_current", "mA"), u16("mpc_current", "mA"), u16("tcc_current", "mA"),
			u16("targ_spc_current", "mA"), u16("targ_mpc_current", "mA"),
			u16("adjustment_spc", ""), u16("adjustment_mpc", ""),
			u16("y3_current", "mA"), u16("y4_current", "mA"), u16("y5_current", "mA")),
		packed(CanDataDump, "can_data",
			u8("pedal_position", ""), u16("min_torque_ms", "Nm"), u16("max_torque_ms", "Nm"),
			u16("static_torque", "Nm"), u16("driver_torque", "Nm"),
			u16("left_rear_rpm", "rpm"), u16("right_rear_rpm", "rpm"),
			u8("shift_profile_pressed", ""), u8("selector_position", ""), u8("paddle_position", ""),
			u16("engine_rpm", "rpm"), u16("fuel_flow", ""), u16("egs_req_torque", "Nm"),
			u8("egs_torque_req_ctrl_type", ""), u8("egs_torque_req_bounds", ""),
			i16("engine_iat_temp", "C"), i16("engine_oil_temp", "C"), i16("engine_coolant_temp", "C")),
		packed(SysUsage, "sys_usage",
			u16("core1_usage", "x10%"), u16("core2_usage", "x10%"),
			u32("free_ram", "B"), u32("total_ram", "B"),
			u32("free_psram", "B"), u32("total_psram", "B"), u32("num_tasks", "")),
		packed(PressureStatus, "pressures",
			u8("ss_flag", ""), u16("shift_req_pressure", "mBar"), u16("modulating_req_pressure", "mBar"),
			u16("working_pressure", "mBar"), u16("inlet_pressure", "mBar"),
			u16("corrected_spc_pressure", "mBar"), u16("corrected_mpc_pressure", "mBar"),
			u16("tcc_pressure", "mBar")),
		packed(ShiftMonitor, "shift_monitor",
			u16("spc_pressure_mbar", "mBar"), u16("mpc_pressure_mbar", "mBar"), u16("tcc_pressure_mbar", "mBar"),
			u8("shift_solenoid_pos", ""), u16("input_rpm", "rpm"), u16("engine_rpm", "rpm"),
			u16("output_rpm", "rpm"), i16("engine_torque", "Nm"), i16("input_torque", "Nm"),
			i16("req_engine_torque", "Nm"), u8("atf_temp", "C"), u8("shift_idx", "")),
		packed(ClutchSpeeds, "clutch_speeds",
			i16("k1", "rpm"), i16("k2", "rpm"), i16("k3", "rpm"),
			i16("b1", "rpm"), i16("b2", "rpm"), i16("b3", "rpm")),
		packed(ClutchVelocities, "clutch_velocities",
			i16("on_vel", "rpm/100ms"), i16("off_vel", "rpm/100ms")),
	}
}
