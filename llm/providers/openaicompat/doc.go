// Package openaicompat implements the image-api provider family: the
// OpenAI-shaped wire protocol spoken by the official API and by most
// third-party gateways.
//
// Analysis goes through chat/completions with a JSON-only system message and
// response_format json_object. Generation prefers images/generations (size
// bucket, b64_json) and falls back to chat/completions for gateways that
// multiplex image models through a chat interface.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    BaseProviderConfig: providers.BaseProviderConfig{
//	        APIKey:  cfg.APIKey,
//	        BaseURL: "https://gw.example.com/",
//	        Model:   "dall-e-3",
//	    },
//	}, logger)
package openaicompat
