// Hand-written in the shape of MockGen output for transport.go's Transport.

package remote

import (
	context "context"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockTransport is a mock of Transport, used by server_test.go.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

type MockTransportMockRecorder struct {
	mock *MockTransport
}

func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	m := &MockTransport{ctrl: ctrl}
	m.recorder = &MockTransportMockRecorder{m}

	return m
}

func (m *MockTransport) EXPECT() *MockTransportMockRecorder {
	return m.recorder
}

func (m *MockTransport) OpenStream(ctx context.Context) (Stream, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "OpenStream", ctx)
	ret0, _ := ret[0].(Stream)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

func (mr *MockTransportMockRecorder) OpenStream(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OpenStream", reflect.TypeOf((*MockTransport)(nil).OpenStream), ctx)
}

func (m *MockTransport) AcceptStream(ctx context.Context) (Stream, error) {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "AcceptStream", ctx)
	ret0, _ := ret[0].(Stream)
	ret1, _ := ret[1].(error)

	return ret0, ret1
}

func (mr *MockTransportMockRecorder) AcceptStream(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AcceptStream", reflect.TypeOf((*MockTransport)(nil).AcceptStream), ctx)
}

func (m *MockTransport) Close() error {
	m.ctrl.T.Helper()

	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)

	return ret0
}

func (mr *MockTransportMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()

	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockTransport)(nil).Close))
}
