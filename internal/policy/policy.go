// Package policy renders authorization decisions as API Gateway policy documents.
package policy

// Effect is the outcome of an authorization decision.
type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

const (
	// Principal is the principal id reported for every caller.
	Principal = "user"

	policyVersion = "2012-10-17"
	invokeAction  = "execute-api:Invoke"
)

type Statement struct {
	Action   string `json:"Action"`
	Effect   Effect `json:"Effect"`
	Resource string `json:"Resource"`
}

type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Response is the body API Gateway expects back from a TOKEN authorizer.
type Response struct {
	PrincipalID    string    `json:"principalId"`
	PolicyDocument *Document `json:"policyDocument,omitempty"`
}

// Render builds the authorizer response for effect on resource. With an empty
// effect or resource only the principal is returned, which API Gateway treats as
// unauthorized.
func Render(principalID string, effect Effect, resource string) Response {
	resp := Response{PrincipalID: principalID}
	if effect == "" || resource == "" {
		return resp
	}
	resp.PolicyDocument = &Document{
		Version: policyVersion,
		Statement: []Statement{{
			Action:   invokeAction,
			Effect:   effect,
			Resource: resource,
		}},
	}
	return resp
}
