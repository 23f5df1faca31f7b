// Package mocks provides generated mock implementations of the auth ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	nav := mocks.NewMockNavigator(ctrl)
//	nav.EXPECT().NavigateTo("/").Times(1)
package mocks

// Generate mock for Navigator interface from internal/ports package.
// This creates MockNavigator with methods for all Navigator interface methods:
// NavigateTo
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=navigator_mock.go github.com/target/portfolio-ui/internal/ports Navigator

// Generate mock for TokenStorage interface from internal/ports package.
// This creates MockTokenStorage with methods for all TokenStorage interface methods:
// Load, Save, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=token_storage_mock.go github.com/target/portfolio-ui/internal/ports TokenStorage
