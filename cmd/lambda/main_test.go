package main

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"

	"github.com/demonfiddler/evidence-engine-sub000/interfaces/http/rest/middleware"
)

func TestNormalizeAuthorities(t *testing.T) {
	assert.Equal(t, "LNK,REA", normalizeAuthorities("[LNK REA]"))
	assert.Equal(t, "LNK,REA", normalizeAuthorities("LNK, REA"))
	assert.Equal(t, "", normalizeAuthorities(""))
}

func TestApplyAuthorizerClaims_StripsSpoofedHeaders(t *testing.T) {
	req := events.APIGatewayV2HTTPRequest{
		Headers: map[string]string{
			"x-user-id":                "mallory",
			"x-api-gateway-authorized": "true",
		},
	}
	assert.False(t, applyAuthorizerClaims(&req))
	assert.Empty(t, req.Headers)

	req.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
		JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
			Claims: map[string]string{"sub": "alice", "email": "a@example.org", "authorities": "[REA LNK]"},
		},
	}
	assert.True(t, applyAuthorizerClaims(&req))
	assert.Equal(t, "alice", req.Headers[middleware.HeaderUserID])
	assert.Equal(t, "REA,LNK", req.Headers[middleware.HeaderUserAuthorities])
	assert.Equal(t, "true", req.Headers[middleware.HeaderGatewayAuthorized])
}
