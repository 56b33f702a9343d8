package cloud

// Wire-level types for the GO DAIKIN cloud service. The API mirrors an AWS
// IoT device shadow: Set_* fields are desired settings, Sta_* are reported
// measurements, Ena_* are capability flags baked into the unit.

// Vendor codes for Set_Mode.
const (
	WireModeCool    = 1
	WireModeDry     = 2
	WireModeFanOnly = 3
)

// Vendor codes for Set_Fan.
const (
	WireFanAuto   = 0
	WireFanLow    = 1
	WireFanMedium = 2
	WireFanHigh   = 3
)

// Vendor codes for the louvre level fields (Set_UDLvr / Set_LRLvr).
// 0 is parked; 1..5 are fixed steps. Vertical auto-swing is a separate
// Set_Swing toggle, horizontal auto-swing is level 0 with Set_LRSwing.
const (
	WireSwingParked = 0
	WireSwingStep1  = 1
	WireSwingStep2  = 2
	WireSwingStep3  = 3
	WireSwingStep4  = 4
	WireSwingStep5  = 5
)

// Unit is one air conditioner as listed by the homepage endpoint.
type Unit struct {
	ACName       string      `json:"ACName"`
	ThingName    string      `json:"ThingName"`
	IP           string      `json:"IP"`
	MACAddress   string      `json:"macAddress"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	Connected    bool        `json:"isConnected"`
	ShadowState  ShadowState `json:"shadowState"`
}

// Ref identifies a unit for the shadow endpoints.
func (u Unit) Ref() UnitRef {
	return UnitRef{ThingName: u.ThingName, Key: u.ShadowState.Key}
}

// UnitRef addresses a unit's device shadow.
type UnitRef struct {
	ThingName string
	Key       string
}

// ShadowState is the raw reported state of a unit.
type ShadowState struct {
	Key                string `json:"key"`
	Version            int    `json:"version"`
	ShadowStateVersion int    `json:"shadowStateVersion"`
	UpdatedOn          string `json:"updatedOn"`

	SetOnOff  int `json:"Set_OnOff"`
	SetMode   int `json:"Set_Mode"`
	SetTemp   int `json:"Set_Temp"`
	SetFan    int `json:"Set_Fan"`
	SetSwing  int `json:"Set_Swing"`
	SetUDLvr  int `json:"Set_UDLvr"`
	SetLRLvr  int `json:"Set_LRLvr"`
	SetLEDOff int `json:"Set_LEDOff"`
	SetPwrInd int `json:"Set_PwrInd"`

	SetBreeze  int `json:"Set_Breeze"`
	SetEcoplus int `json:"Set_Ecoplus"`
	SetSilent  int `json:"Set_Silent"`
	SetSleep   int `json:"Set_Sleep"`
	SetTurbo   int `json:"Set_Turbo"`

	EnaBreeze  int `json:"Ena_Breeze"`
	EnaEcoplus int `json:"Ena_Ecoplus"`
	EnaSilent  int `json:"Ena_Silent"`
	EnaTurbo   int `json:"Ena_Turbo"`
	EnaUDStep  int `json:"Ena_UDStep"`
	EnaLRSwing int `json:"Ena_LRSwing"`
	EnaLRStep  int `json:"Ena_LRStep"`
	EnaLEDOff  int `json:"Ena_LEDOff"`

	StaIDRoomTemp float64 `json:"Sta_IDRoomTemp"`
	StaIDRh       float64 `json:"Sta_IDRh"`
	StaIDCoilTemp float64 `json:"Sta_IDCoilTemp"`
	StaODAirTemp  float64 `json:"Sta_ODAirTemp"`
	StaODPwrCon   float64 `json:"Sta_ODPwrCon"`
	StaErrCode    int     `json:"Sta_ErrCode"`
}
