package dispatch

import (
	"fmt"
	"strings"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/wire"
)

// paramError is returned for a missing or malformed request field; the
// caller wraps it as an invalid-argument response.
func paramError(field string) error {
	return fmt.Errorf("%w: missing or malformed parameter %q", catalogue.ErrInvalidArgument, field)
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64: // encoding/json decodes numbers as float64 into any
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func uint64Param(params map[string]any, key string) (uint64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func boolParam(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func optIntParam(params map[string]any, key string, defaultVal int) int {
	n, ok := intParam(params, key)
	if !ok {
		return defaultVal
	}
	return n
}

// policyParam maps the V2 "policyInfo" string onto a placement policy.
// Unknown or absent values mean no preference.
func policyParam(params map[string]any) catalogue.Policy {
	s, _ := stringParam(params, "policyInfo")
	switch {
	case strings.HasSuffix(s, "MostUsedFirst"):
		return catalogue.PolicyMostUsedFirst
	case strings.HasSuffix(s, "LeastUsedFirst"):
		return catalogue.PolicyLeastUsedFirst
	default:
		return catalogue.PolicyNone
	}
}

// loadParams extracts the request's load, accepting any one of the three
// wire spellings: the packed original form, the explicit unified form, or
// the bare "requestLoad" older clients send (interpreted as percent when it
// fits, unified otherwise).
func loadParams(params map[string]any) (unified, original int, err error) {
	if raw, ok := intParam(params, "requestLoadOriginal"); ok {
		unified, err = wire.NormalizeLoad(raw)
		if err != nil {
			return 0, 0, err
		}
		if explicit, ok := intParam(params, "requestLoadUnified"); ok && explicit != unified {
			return 0, 0, fmt.Errorf("%w: requestLoadUnified %d conflicts with requestLoadOriginal", catalogue.ErrInvalidArgument, explicit)
		}
		return unified, raw, nil
	}
	if raw, ok := intParam(params, "requestLoadUnified"); ok {
		if raw <= 0 || raw > catalogue.MaxUnifiedLoad {
			return 0, 0, fmt.Errorf("%w: requestLoadUnified %d out of range", catalogue.ErrInvalidArgument, raw)
		}
		return raw, wire.PackLoadOriginal(0, raw), nil
	}
	if raw, ok := intParam(params, "requestLoad"); ok {
		if raw <= 0 {
			return 0, 0, fmt.Errorf("%w: requestLoad %d out of range", catalogue.ErrInvalidArgument, raw)
		}
		if raw <= catalogue.MaxPercentLoad {
			return wire.PercentToUnified(raw), wire.PackLoadOriginal(raw, 0), nil
		}
		if raw > catalogue.MaxUnifiedLoad {
			return 0, 0, fmt.Errorf("%w: requestLoad %d out of range", catalogue.ErrInvalidArgument, raw)
		}
		return raw, wire.PackLoadOriginal(0, raw), nil
	}
	return 0, 0, paramError("requestLoad")
}

// descriptorParam builds a catalogue.CUDescriptor out of the common
// parameter fields every alloc-family verb shares.
func descriptorParam(params map[string]any) (catalogue.CUDescriptor, error) {
	kernelName, _ := stringParam(params, "kernelName")
	kernelAlias, _ := stringParam(params, "kernelAlias")
	cuName, _ := stringParam(params, "cuName")
	clientID, _ := uint64Param(params, "clientId")
	processID, _ := intParam(params, "processId")
	poolID, _ := uint64Param(params, "poolId")

	unified, original, err := loadParams(params)
	if err != nil {
		return catalogue.CUDescriptor{}, err
	}

	return catalogue.CUDescriptor{
		KernelName:          kernelName,
		KernelAlias:         kernelAlias,
		CUName:              cuName,
		Exclusive:           boolParam(params, "devExcl"),
		RequestLoad:         unified,
		RequestLoadOriginal: original,
		PoolID:              poolID,
		DeviceID:            optIntParam(params, "deviceId", -1),
		VirtualDeviceID:     optIntParam(params, "virtualDeviceId", -1),
		MemBank:             optIntParam(params, "memBank", -1),
		Policy:              policyParam(params),
		ClientID:            clientID,
		ProcessID:           processID,
	}, nil
}

// descriptorListParam parses the "cuList" array-of-objects parameter.
func descriptorListParam(params map[string]any) ([]catalogue.CUDescriptor, error) {
	rawList, ok := params["cuList"].([]any)
	if !ok || len(rawList) == 0 {
		return nil, paramError("cuList")
	}
	clientID, _ := uint64Param(params, "clientId")
	processID, _ := intParam(params, "processId")
	descs := make([]catalogue.CUDescriptor, 0, len(rawList))
	for _, raw := range rawList {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, paramError("cuList[]")
		}
		desc, err := descriptorParam(m)
		if err != nil {
			return nil, err
		}
		if desc.ClientID == 0 {
			desc.ClientID = clientID
		}
		if desc.ProcessID == 0 {
			desc.ProcessID = processID
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func handleData(h allocator.Handle) map[string]any {
	return map[string]any{
		"deviceId":            h.DeviceID,
		"cuId":                h.CUID,
		"channelId":           h.ChannelID,
		"allocServiceId":      h.ServiceID,
		"poolId":              h.PoolID,
		"kernelName":          h.KernelName,
		"instanceName":        h.InstanceName,
		"cuName":              h.CUName,
		"membankId":           h.MemBank,
		"xclbinFileName":      h.ImageName,
		"uuidStr":             h.ImageUUID.String(),
		"channelLoadUnified":  h.Load,
		"channelLoadOriginal": h.LoadOriginal,
	}
}

func handlesData(handles []allocator.Handle) []map[string]any {
	out := make([]map[string]any, len(handles))
	for i, h := range handles {
		out[i] = handleData(h)
	}
	return out
}
