package kumo

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/benmeehan/router-agent/pkg/router"
)

// Parameter names of the KUMO config API.
const (
	ParamSystemName = "eParamID_SysName"
	ParamSWVersion  = "eParamID_SWVersion"
)

// MaxLabelLength is the longest line name the KUMO firmware keeps.
const MaxLabelLength = 50

// LabelParam returns the parameter holding the first name line of a port.
func LabelParam(dir router.Direction, port int) string {
	if dir == router.Output {
		return fmt.Sprintf("eParamID_XPT_Destination%d_Line_1", port)
	}
	return fmt.Sprintf("eParamID_XPT_Source%d_Line_1", port)
}

// StatusParam returns the parameter holding the 1-based input routed to a
// destination.
func StatusParam(output int) string {
	return fmt.Sprintf("eParamID_XPT_Destination%d_Status", output)
}

// getPath builds the query for reading one parameter.
func getPath(param string) string {
	return "/config?action=get&configid=0&paramid=" + escape(param)
}

// setPath builds the query for writing one parameter.
func setPath(param, value string) string {
	return "/config?action=set&configid=0&paramid=" + escape(param) + "&value=" + escape(value)
}

// escape percent-encodes every reserved character, spaces included, so the
// firmware never sees a literal '+'.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
