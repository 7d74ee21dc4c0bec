package server

import (
	"net/http"
	"strconv"
	"strings"
)

// EndpointKind identifies one request form of the wire protocol.
type EndpointKind int

const (
	EndpointUnhandled EndpointKind = iota
	EndpointPublish
	EndpointTail
	EndpointTailN
	EndpointTailAll
	EndpointLookUp
	EndpointCheckpoint
)

var endpointNames = map[EndpointKind]string{
	EndpointUnhandled:  "unhandled",
	EndpointPublish:    "publish",
	EndpointTail:       "tail",
	EndpointTailN:      "tail_n",
	EndpointTailAll:    "tail_all",
	EndpointLookUp:     "look_up",
	EndpointCheckpoint: "checkpoint",
}

func (k EndpointKind) String() string {
	if name, ok := endpointNames[k]; ok {
		return name
	}
	return "EndpointKind(" + strconv.Itoa(int(k)) + ")"
}

// Endpoint is a parsed request target. N is set only for EndpointTailN.
type Endpoint struct {
	Kind EndpointKind
	N    int
}

const tailPrefix = "/tail_"

// ParseEndpoint maps a method and path onto an Endpoint. Anything it does
// not recognise is EndpointUnhandled.
func ParseEndpoint(method, path string) Endpoint {
	switch method {
	case http.MethodPost:
		switch path {
		case "/", "/publish":
			return Endpoint{Kind: EndpointPublish}
		case "/look_up":
			return Endpoint{Kind: EndpointLookUp}
		}
	case http.MethodGet:
		switch path {
		case "/tail":
			return Endpoint{Kind: EndpointTail}
		case "/tail_all":
			return Endpoint{Kind: EndpointTailAll}
		case "/checkpoint":
			return Endpoint{Kind: EndpointCheckpoint}
		}
		if suffix, ok := strings.CutPrefix(path, tailPrefix); ok && allDigits(suffix) {
			if n, err := strconv.Atoi(suffix); err == nil {
				return Endpoint{Kind: EndpointTailN, N: n}
			}
		}
	}
	return Endpoint{Kind: EndpointUnhandled}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
