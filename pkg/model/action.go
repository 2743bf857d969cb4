package model

// ActionType names the strategy an expectation uses to produce a response.
type ActionType string

// Action types.
const (
	ActionResponse               ActionType = "RESPONSE"
	ActionResponseTemplate       ActionType = "RESPONSE_TEMPLATE"
	ActionResponseClassCallback  ActionType = "RESPONSE_CLASS_CALLBACK"
	ActionResponseObjectCallback ActionType = "RESPONSE_OBJECT_CALLBACK"
	ActionForward                ActionType = "FORWARD"
	ActionForwardTemplate        ActionType = "FORWARD_TEMPLATE"
	ActionForwardClassCallback   ActionType = "FORWARD_CLASS_CALLBACK"
	ActionForwardObjectCallback  ActionType = "FORWARD_OBJECT_CALLBACK"
	ActionForwardReplace         ActionType = "FORWARD_REPLACE"
	ActionError                  ActionType = "ERROR"
)

// HTTPForward forwards the request to another host.
type HTTPForward struct {
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
	Scheme Scheme `json:"scheme,omitempty"`
	Delay  *Delay `json:"delay,omitempty"`
}

// HTTPOverrideForwardedRequest forwards the request after overriding any
// fields set on HTTPRequest.
type HTTPOverrideForwardedRequest struct {
	HTTPRequest *HTTPRequest `json:"httpRequest,omitempty"`
	Delay       *Delay       `json:"delay,omitempty"`
}

// TemplateType names a template language.
type TemplateType string

// Template types. Only EXPR templates are executed; the others are
// accepted on the wire and rejected by validation.
const (
	TemplateExpr       TemplateType = "EXPR"
	TemplateJavaScript TemplateType = "JAVASCRIPT"
	TemplateVelocity   TemplateType = "VELOCITY"
)

// HTTPTemplate renders a response or forwarded request from the inbound request.
type HTTPTemplate struct {
	TemplateType TemplateType `json:"templateType"`
	Template     string       `json:"template"`
	Delay        *Delay       `json:"delay,omitempty"`
}

// HTTPClassCallback names an in-process callback registered at startup.
type HTTPClassCallback struct {
	CallbackClass string `json:"callbackClass"`
	Delay         *Delay `json:"delay,omitempty"`
}

// HTTPObjectCallback delegates to a websocket-connected client.
type HTTPObjectCallback struct {
	ClientID         string `json:"clientId"`
	ResponseCallback bool   `json:"responseCallback,omitempty"`
	Delay            *Delay `json:"delay,omitempty"`
}

// HTTPError injects a connection-level fault.
type HTTPError struct {
	DropConnection bool   `json:"dropConnection,omitempty"`
	ResponseBytes  []byte `json:"responseBytes,omitempty"`
	Delay          *Delay `json:"delay,omitempty"`
}
