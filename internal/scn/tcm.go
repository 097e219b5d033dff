package scn

// Local identifiers holding coding blocks on the TCU
const (
	CoreConfigID  uint8 = 0xFE
	EfuseConfigID uint8 = 0xFD
)

func u8(name string, byteOffset uint) Field {
	return Field{Name: name, Offset: byteOffset * 8, Width: 8, Type: TypeInteger}
}

func u16(name string, byteOffset uint, min, max int64) Field {
	return Field{Name: name, Offset: byteOffset * 8, Width: 16, Type: TypeInteger, Min: min, Max: max}
}

func flag(name string, byteOffset uint) Field {
	return Field{Name: name, Offset: byteOffset * 8, Width: 8, Type: TypeInteger, Min: 0, Max: 1}
}

func enum8(name string, byteOffset uint, members ...EnumValue) Field {
	return Field{Name: name, Offset: byteOffset * 8, Width: 8, Type: TypeEnum, Enum: members}
}

// TCMCoreSchema is the TCU core configuration block (local id 0xFE).
// Ratios are stored as 1000x the real value.
var TCMCoreSchema = MustSchema("tcm_core", 28, []Field{
	flag("is_large_nag", 0),
	u16("diff_ratio", 1, 1000, 6000),
	u16("wheel_circumference", 3, 1000, 3000),
	flag("is_four_matic", 5),
	u16("transfer_case_high_ratio", 6, 0, 0),
	u16("transfer_case_low_ratio", 8, 0, 0),
	enum8("default_profile", 10,
		EnumValue{0, "Standard"}, EnumValue{1, "Comfort"}, EnumValue{2, "Winter"},
		EnumValue{3, "Agility"}, EnumValue{4, "Manual"}),
	u16("red_line_dieselrpm", 11, 3000, 8000),
	u16("red_line_petrolrpm", 13, 4000, 8000),
	enum8("engine_type", 15, EnumValue{0, "Diesel"}, EnumValue{1, "Petrol"}),
	enum8("egs_can_type", 16,
		EnumValue{0, "UNKNOWN"}, EnumValue{1, "EGS51"}, EnumValue{2, "EGS52"},
		EnumValue{3, "EGS53"}, EnumValue{4, "HFM"}, EnumValue{5, "CUSTOM_ECU"}),
	enum8("shifter_style", 17, EnumValue{0, "EWM_CAN"}, EnumValue{1, "TRRS"}, EnumValue{2, "SLR_MCLAREN"}),
	enum8("io_0_usage", 18,
		EnumValue{0, "NotConnected"}, EnumValue{1, "Input"}, EnumValue{2, "Output"}, EnumValue{3, "TCCMod13"}),
	u8("input_sensor_pulses_per_rev", 19),
	u8("output_pulse_width_per_kmh", 20),
	enum8("mosfet_purpose", 21, EnumValue{0, "NotConnected"}, EnumValue{1, "TorqueCutTrigger"}, EnumValue{2, "B3BrakeSolenoid"}),
	{Name: "throttle_max_open_angle", Offset: 22 * 8, Width: 8, Type: TypeInteger, Min: 0, Max: 90},
	u16("c_eng", 23, 0, 0),
	u16("engine_drag_torque", 25, 0, 0),
	flag("jeep_chrysler", 27),
})

// EfuseSchema is the board identity block (local id 0xFD)
var EfuseSchema = MustSchema("tcm_efuse", 5, []Field{
	enum8("board_ver", 0,
		EnumValue{0, "Unknown"}, EnumValue{1, "V11"}, EnumValue{2, "V12"},
		EnumValue{3, "V13"}, EnumValue{4, "V14"}, EnumValue{0xF4, "V14HGS"}),
	{Name: "manf_day", Offset: 8, Width: 8, Type: TypeInteger, Min: 1, Max: 31},
	{Name: "manf_week", Offset: 16, Width: 8, Type: TypeInteger, Min: 1, Max: 53},
	{Name: "manf_month", Offset: 24, Width: 8, Type: TypeInteger, Min: 1, Max: 12},
	{Name: "manf_year", Offset: 32, Width: 8, Type: TypeInteger, Min: 0, Max: 99},
})
