package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/starry-os/infra/os-acceptor/types"
)

// payloadVerdict is the self-contained structured object a case writes to
// self-report its outcome under the payload protocol.
type payloadVerdict struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ExtractVerdict normalizes a completed execution into a case status.
//
// Under the payload protocol the full captured output is scanned for the last
// syntactically valid JSON object carrying a status field; banners and logging
// interleaved before or after it are tolerated. No such object, or an
// unrecognized status value, yields error — distinct from fail, which means the
// case's own logic detected a problem.
//
// Under the exit-code protocol the process exit status is authoritative and no
// parsing occurs.
func ExtractVerdict(protocol types.VerdictProtocol, output []byte, exitCode int) (types.CaseStatus, string) {
	switch protocol {
	case types.ProtocolExitCode:
		if exitCode == 0 {
			return types.CaseStatusPass, ""
		}
		return types.CaseStatusFail, fmt.Sprintf("exit code %d", exitCode)

	case types.ProtocolPayload:
		verdict, found := lastVerdictPayload(stripansi.Strip(string(output)))
		if !found {
			return types.CaseStatusError, "no verdict payload found in case output"
		}
		switch verdict.Status {
		case string(types.CaseStatusPass):
			return types.CaseStatusPass, ""
		case string(types.CaseStatusFail):
			return types.CaseStatusFail, verdict.Message
		default:
			return types.CaseStatusError, fmt.Sprintf("unrecognized verdict status %q", verdict.Status)
		}

	default:
		return types.CaseStatusError, fmt.Sprintf("unknown verdict protocol %q", protocol)
	}
}

// lastVerdictPayload scans the text for JSON objects and returns the last
// syntactically valid one that carries a status field. Objects without a
// status field are incidental output and ignored.
func lastVerdictPayload(text string) (payloadVerdict, bool) {
	var (
		last  payloadVerdict
		found bool
	)
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))

		var raw map[string]json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		statusRaw, ok := raw["status"]
		if !ok {
			continue
		}

		var v payloadVerdict
		if err := json.Unmarshal(statusRaw, &v.Status); err != nil {
			// status present but not a string; still a verdict attempt
			v.Status = string(statusRaw)
		}
		if msgRaw, ok := raw["message"]; ok {
			_ = json.Unmarshal(msgRaw, &v.Message)
		}
		last = v
		found = true

		// Skip past the decoded object so nested objects are not re-scanned.
		i += int(dec.InputOffset()) - 1
	}
	return last, found
}
