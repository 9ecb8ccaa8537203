package audit

import (
	"github.com/rustyeddy/riskguard/events"
)

type mapping struct {
	typ      EventType
	category Category
	severity Severity
}

var fromBus = map[events.Type]mapping{
	events.StopLossCreated:         {StopLossCreated, CategoryStopLoss, Info},
	events.StopLossUpdated:         {StopLossUpdated, CategoryStopLoss, Info},
	events.StopLossTriggered:       {StopLossTriggered, CategoryStopLoss, Warn},
	events.StopLossExecuted:        {StopLossExecuted, CategoryStopLoss, Warn},
	events.StopLossFailed:          {TradeFailed, CategoryStopLoss, Error},
	events.StopLossRemoved:         {StopLossRemoved, CategoryStopLoss, Info},
	events.CircuitBreakerTriggered: {CircuitBreakerTriggered, CategoryRisk, Error},
	events.CircuitBreakerReset:     {System, CategoryRisk, Info},
	events.SettingsChanged:         {SettingsChanged, CategorySettings, Info},
	events.TradeExecuted:           {TradeExecuted, CategoryTrading, Info},
	events.TradeFailed:             {TradeFailed, CategoryTrading, Error},
	events.TradingStarted:          {TradingStarted, CategorySystem, Info},
	events.TradingStopped:          {TradingStopped, CategorySystem, Info},
	events.PanicSell:               {PanicSell, CategoryRisk, Warn},
	events.Reconciliation:          {Reconciliation, CategorySystem, Info},
	events.System:                  {System, CategorySystem, Info},
}

// FromEvent converts a bus event into an audit entry. Unknown event types
// are recorded as SYSTEM.
func FromEvent(ev events.Event) Entry {
	m, ok := fromBus[ev.Type]
	if !ok {
		m = mapping{System, CategorySystem, Info}
	}
	details := ev.Data
	if m.typ == System && ev.Type != events.System {
		details = make(map[string]any, len(ev.Data)+1)
		for k, v := range ev.Data {
			details[k] = v
		}
		details["source_event"] = string(ev.Type)
	}
	return Entry{
		Timestamp: ev.Timestamp,
		EventType: m.typ,
		Category:  m.category,
		Symbol:    ev.Symbol,
		Message:   ev.Message,
		Details:   details,
		Severity:  m.severity,
	}
}
