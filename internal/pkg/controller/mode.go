package controller

import (
	"fmt"
	"strings"
)

// ChargeMode 插座的充电模式
type ChargeMode int

const (
	ModeOff ChargeMode = iota
	ModePVOnly
	ModePVAndMin
	ModeFast
)

var modeNames = map[ChargeMode]string{
	ModeOff:      "OFF",
	ModePVOnly:   "PV_ONLY",
	ModePVAndMin: "PV_AND_MIN",
	ModeFast:     "FAST",
}

func (m ChargeMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseChargeMode 忽略大小写解析模式，NO_CHARGE 是 OFF 的别名
func ParseChargeMode(s string) (ChargeMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "NO_CHARGE" {
		return ModeOff, nil
	}
	for mode, n := range modeNames {
		if n == name {
			return mode, nil
		}
	}
	return ModeOff, fmt.Errorf("unknown charge mode %q", s)
}
