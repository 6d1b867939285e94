// Package model defines the provider-agnostic abstraction used to talk to
// language models, plus a scripted MockModel for tests.
//
// Providers (OpenAI, Anthropic) implement Model in sub-packages so the
// decision layer stays decoupled from vendor SDKs. Requests carry an optional
// ResponseSchema; providers that honour it return the JSON document as the
// response text.
package model
