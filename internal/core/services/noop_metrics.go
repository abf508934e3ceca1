package services

import "time"

// NoopMetrics discards gateway measurements.
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened()                 {}
func (NoopMetrics) ConnectionClosed(time.Duration)    {}
func (NoopMetrics) ConnectionRefused(string)          {}
func (NoopMetrics) JoinAttempt(string)                {}
func (NoopMetrics) RoomsActive(int)                   {}
func (NoopMetrics) MessageRelayed(int, time.Duration) {}
func (NoopMetrics) MessageRejected(string)            {}
func (NoopMetrics) SlowConsumerDisconnected()         {}
