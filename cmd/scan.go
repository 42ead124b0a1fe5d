package cmd

import (
	"bytes"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/spf13/cobra"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/backend"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/config"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/detect"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/extract"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
)

const (
	scanUserAgent   = "tracker-scan/" + version
	scanDelay       = 500 * time.Millisecond
	scanParallelism = 2
)

// newScanCommand builds the scan subcommand: fetch one or more pages of a
// shop and print how the agent would classify and value each one. Useful
// when an operator reports missed conversions.
func newScanCommand() *cobra.Command {
	var (
		maxDepth int
		siteID   string
	)

	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Classify pages of a shop the way the agent would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			if siteID == "" {
				siteID = cfg.Site.ID
			}
			return runScan(cmd, args[0], siteID, maxDepth, cfg, log)
		},
	}

	cmd.Flags().IntVar(&maxDepth, "depth", 1, "link-follow depth (1 scans only the given page)")
	cmd.Flags().StringVar(&siteID, "site", "", "site id for fetching the operator configuration")
	return cmd
}

func runScan(
	cmd *cobra.Command,
	startURL, siteID string,
	maxDepth int,
	cfg *config.Config,
	log logger.Logger,
) error {
	start, err := url.Parse(startURL)
	if err != nil {
		return fmt.Errorf("invalid start URL: %w", err)
	}

	siteCfg := fetchSiteConfig(cmd, siteID, cfg, log)
	detector := detect.New(siteCfg)
	extractor := extract.New(log)

	collector := colly.NewCollector(
		colly.MaxDepth(maxDepth),
		colly.AllowedDomains(start.Hostname()),
		colly.UserAgent(scanUserAgent),
		colly.IgnoreRobotsTxt(),
	)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       scanDelay,
		Parallelism: scanParallelism,
	}); err != nil {
		return fmt.Errorf("failed to set rate limit: %w", err)
	}

	collector.OnResponse(func(r *colly.Response) {
		pc, err := page.New(r.Request.URL.String(), "", bytes.NewReader(r.Body))
		if err != nil {
			log.Warn("unparseable page", logger.String("url", r.Request.URL.String()), logger.Error(err))
			return
		}
		printVerdict(cmd, pc, detector, extractor, siteCfg)
	})
	if maxDepth > 1 {
		collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
			_ = e.Request.Visit(e.Attr("href"))
		})
	}
	collector.OnError(func(r *colly.Response, err error) {
		log.Error("fetch failed",
			logger.String("url", r.Request.URL.String()),
			logger.Int("status", r.StatusCode),
			logger.Error(err),
		)
	})

	if err := collector.Visit(startURL); err != nil {
		return fmt.Errorf("failed to visit %s: %w", startURL, err)
	}
	collector.Wait()
	return nil
}

// fetchSiteConfig pulls the operator configuration when a site id is known;
// a failure degrades the scan to heuristics, the same as the agent.
func fetchSiteConfig(cmd *cobra.Command, siteID string, cfg *config.Config, log logger.Logger) domain.SiteConfig {
	if siteID == "" {
		return domain.SiteConfig{}
	}
	client := backend.NewClient(
		cfg.Backend.BaseURL,
		backend.NewHTTPClient(cfg.Backend.RequestTimeout),
		log,
	)
	siteCfg, err := client.FetchConfig(cmd.Context(), siteID)
	if err != nil {
		log.Warn("site config unavailable, scanning with heuristics only", logger.Error(err))
		return domain.SiteConfig{}
	}
	return siteCfg
}

func printVerdict(
	cmd *cobra.Command,
	pc *page.Context,
	detector *detect.Detector,
	extractor *extract.Extractor,
	siteCfg domain.SiteConfig,
) {
	out := cmd.OutOrStdout()

	switch {
	case detect.IsCheckoutURL(pc.URL):
		fmt.Fprintf(out, "%s\n  checkout page: never reported as a conversion\n", pc.URL)
		return
	case !detector.IsConversionPage(pc):
		fmt.Fprintf(out, "%s\n  not a conversion page\n", pc.URL)
		return
	}

	extractCtx := &extract.Context{Page: pc, Config: siteCfg}
	value, strategy, ok := extractor.Value(extractCtx)
	orderID := extract.OrderID(extractCtx)

	fmt.Fprintf(out, "%s\n  conversion page\n", pc.URL)
	if ok {
		fmt.Fprintf(out, "  value: %.2f (via %s)\n", value, strategy)
	} else {
		fmt.Fprintf(out, "  value: none extracted\n")
	}
	if orderID != "" {
		fmt.Fprintf(out, "  order id: %s\n", orderID)
	}
}
