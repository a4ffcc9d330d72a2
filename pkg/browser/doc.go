// Package browser drives Chromium through Playwright and exposes its pages
// to the readiness detector.
//
// A SessionManager launches one shared browser. Each Session is an
// isolated browser context with a single page, so concurrent captures do
// not share cookies or storage. PageResource adapts a page to
// readiness.PageResource:
//
//	manager := browser.NewSessionManager(readiness.NewDetector())
//	if err := manager.Initialize(browser.LaunchOptions{Headless: true}); err != nil {
//		return err
//	}
//	defer manager.Shutdown()
//
//	session, err := manager.Open(ctx, "https://example.com")
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
//	det, err := session.Capture(ctx, readiness.DefaultOptions(), sink)
//
// Closing a session cancels the detection running against it, so the
// sink never sees a page that has already been torn down.
package browser
