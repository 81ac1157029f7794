// Package mocks provides gomock implementations of the core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	transport := mocks.NewMockTransport(ctrl)
//	transport.EXPECT().Open(gomock.Any(), gomock.Any()).Return(body, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=transport_mock.go github.com/target/docflow/internal/core Transport
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=event_publisher_mock.go github.com/target/docflow/internal/core EventPublisher
