package engine

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderCycleTable 把循环结果渲染成终端表格（进日志）。
func RenderCycleTable(result CycleResult) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"标的", "动作", "置信度", "来源", "风控", "结果", "说明"})
	for _, e := range result.Entries {
		d := e.Verdict.Decision
		gate := "放行"
		detail := e.Detail
		if !e.Verdict.Approved {
			gate = "否决"
			detail = e.Verdict.VetoReason
		} else if len(e.Verdict.Corrections) > 0 {
			gate = fmt.Sprintf("放行(%d 项修正)", len(e.Verdict.Corrections))
		}
		t.AppendRow(table.Row{
			e.Symbol,
			string(d.Action),
			fmt.Sprintf("%.2f", d.Confidence),
			d.Source,
			gate,
			e.Outcome,
			truncate(detail, 48),
		})
	}
	return t.Render()
}

// RenderPositionsTable 持仓表。
func RenderPositionsTable(snap StateSnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"标的", "方向", "数量", "入场价", "杠杆", "浮盈"})
	for _, p := range snap.Positions {
		t.AppendRow(table.Row{
			p.Symbol, p.Side,
			fmt.Sprintf("%.6f", p.Quantity),
			fmt.Sprintf("%.4f", p.EntryPrice),
			p.Leverage,
			fmt.Sprintf("%.2f", p.UnrealizedPnL),
		})
	}
	t.AppendFooter(table.Row{"权益", fmt.Sprintf("%.2f", snap.Equity), "", "已实现", fmt.Sprintf("%.2f", snap.RealizedPnL), ""})
	return t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
