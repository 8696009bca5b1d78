package meta

// builtin is the NMRA S-9.2.2 standard CV set, plus the universally
// adopted function-mapping block.
var builtin = map[int]Info{
	1: {
		Name:        "Primary Address",
		Description: "Short decoder address (1-127). Active when CV29 bit 5 is clear.",
	},
	2: {
		Name:        "Vstart",
		Description: "Motor voltage at speed step 1.",
	},
	3: {
		Name:        "Acceleration Rate",
		Description: "Delay between speed step increases.",
	},
	4: {
		Name:        "Deceleration Rate",
		Description: "Delay between speed step decreases.",
	},
	5: {
		Name:        "Vhigh",
		Description: "Motor voltage at the top speed step. 0 disables.",
	},
	6: {
		Name:        "Vmid",
		Description: "Motor voltage at the middle speed step. 0 disables.",
	},
	7: {
		Name:        "Manufacturer Version",
		Description: "Decoder firmware version, assigned by the manufacturer.",
		ReadOnly:    true,
	},
	8: {
		Name:        "Manufacturer ID",
		Description: "NMRA-assigned manufacturer number. Writing 8 resets most decoders.",
		ReadOnly:    true,
	},
	17: {
		Name:        "Extended Address High",
		Description: "Upper byte of the long address (with CV18). Active when CV29 bit 5 is set.",
	},
	18: {
		Name:        "Extended Address Low",
		Description: "Lower byte of the long address (with CV17).",
	},
	19: {
		Name:        "Consist Address",
		Description: "Advanced consist address. 0 means not in a consist.",
	},
	29: {
		Name:        "Configuration Data",
		Description: "Primary decoder configuration bit field.",
		BitLabels: []string{
			"reverse direction",
			"28/128 speed steps",
			"analog conversion",
			"railcom",
			"complex speed curve",
			"long address",
			"",
			"accessory decoder",
		},
	},
	33: {Name: "Function Map F0 forward"},
	34: {Name: "Function Map F0 reverse"},
	35: {Name: "Function Map F1"},
	36: {Name: "Function Map F2"},
	37: {Name: "Function Map F3"},
	38: {Name: "Function Map F4"},
	39: {Name: "Function Map F5"},
	40: {Name: "Function Map F6"},
	41: {Name: "Function Map F7"},
	42: {Name: "Function Map F8"},
	43: {Name: "Function Map F9"},
	44: {Name: "Function Map F10"},
	45: {Name: "Function Map F11"},
	46: {Name: "Function Map F12"},
}
