package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"tradeloop/internal/logger"
)

// handleEquityChart 渲染权益曲线页面（go-echarts 折线图）。
func (r *Router) handleEquityChart(c *gin.Context) {
	snap := r.state.Snapshot()

	xs := make([]string, 0, len(snap.EquityHistory))
	ys := make([]opts.LineData, 0, len(snap.EquityHistory))
	for _, p := range snap.EquityHistory {
		xs = append(xs, p.At.Format("01-02 15:04"))
		ys = append(ys, opts.LineData{Value: p.Equity})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "账户权益",
			Subtitle: "每循环采样一次",
		}),
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "tradeloop equity",
			Width:     "960px",
			Height:    "480px",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(xs).AddSeries("equity", ys).SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(c.Writer); err != nil {
		logger.Warnf("权益图渲染失败: %v", err)
	}
}
