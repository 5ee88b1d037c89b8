package mastobot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/mastobot/posting/postingtest"
)

var (
	errRuntimeNotLoaded  = errors.New("runtime was not loaded")
	errUnexpectedModules = errors.New("unexpected active modules")
	errUnexpectedState   = errors.New("unexpected unit state")
	errOrderingViolated  = errors.New("a module connected before every service was running")
	errUnexpectedPosts   = errors.New("unexpected posts")
)

// RuntimeBDDTestContext holds the state of one scenario.
type RuntimeBDDTestContext struct {
	fixture  *runtimeFixture
	posters  map[string]*posterModule
	rt       *Runtime
	loadErr  error
	fireErrs []error
}

func (c *RuntimeBDDTestContext) resetContext() {
	c.fixture = nil
	c.posters = make(map[string]*posterModule)
	c.rt = nil
	c.loadErr = nil
	c.fireErrs = nil
}

func (c *RuntimeBDDTestContext) iHaveARuntimeWithAFileService(name, file string) error {
	c.fixture = &runtimeFixture{
		catalog: NewCatalog(),
		source:  mapSource{},
		client:  postingtest.NewClient(),
		logger:  NewTestLogger(),
		events:  &eventRecorder{},
		storage: newMemFileService(name, map[string][]byte{file: []byte("image")}),
	}
	return c.fixture.catalog.Register(Definition{Kind: KindService, Name: name, New: func() (Unit, error) {
		return c.fixture.storage, nil
	}})
}

func (c *RuntimeBDDTestContext) addPoster(name string) (*posterModule, error) {
	m := newPosterModule(name)
	m.config.Storage = c.fixture.storage.Name()
	c.posters[name] = m
	err := c.fixture.catalog.Register(Definition{Kind: KindModule, Name: name, New: func() (Unit, error) {
		return m, nil
	}})
	return m, err
}

func (c *RuntimeBDDTestContext) aModuleConfiguredWithTokenAndSchedule(name, token, schedule string) error {
	m, err := c.addPoster(name)
	if err != nil {
		return err
	}
	m.config.Schedule = schedule
	c.fixture.credentials(strings.ToUpper(name), token)
	return nil
}

func (c *RuntimeBDDTestContext) aModuleConfiguredWithoutAToken(name string) error {
	if _, err := c.addPoster(name); err != nil {
		return err
	}
	c.fixture.credentials(strings.ToUpper(name), "")
	return nil
}

func (c *RuntimeBDDTestContext) theEnvironmentSetsOption(option, module, value string) error {
	c.fixture.source[fmt.Sprintf("MASTOBOT_MODULE_%s_%s", strings.ToUpper(module), strings.ToUpper(option))] = value
	return nil
}

func (c *RuntimeBDDTestContext) thePostingBackendRejectsTheNextPost() error {
	c.fixture.client.PostErr = errors.New("instance is read-only")
	return nil
}

func (c *RuntimeBDDTestContext) thePostingBackendAcceptsPostsAgain() error {
	c.fixture.client.PostErr = nil
	return nil
}

func (c *RuntimeBDDTestContext) theRuntimeLoads() error {
	c.rt = c.fixture.runtime()
	c.loadErr = c.rt.Load(context.Background())
	return c.loadErr
}

func (c *RuntimeBDDTestContext) theEntriesOfModuleFire(name string) error {
	if c.rt == nil {
		return errRuntimeNotLoaded
	}
	for _, e := range c.rt.Scheduler().Entries() {
		if e.Owner != name {
			continue
		}
		exec, err := c.rt.Scheduler().Trigger(context.Background(), e.ID)
		if err != nil {
			return err
		}
		c.fireErrs = append(c.fireErrs, exec.Err)
	}
	return nil
}

func (c *RuntimeBDDTestContext) theActiveModulesShouldBe(names string) error {
	want := strings.Split(names, ",")
	got := c.rt.ActiveModules()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%w: got %v, want %v", errUnexpectedModules, got, want)
	}
	return nil
}

func (c *RuntimeBDDTestContext) thereShouldBeNoActiveModules() error {
	if got := c.rt.ActiveModules(); len(got) != 0 {
		return fmt.Errorf("%w: %v", errUnexpectedModules, got)
	}
	return nil
}

func (c *RuntimeBDDTestContext) moduleShouldHaveFailedWithAConnectionError(name string) error {
	status, ok := c.rt.Lifecycle().Status(KindModule, name)
	if !ok || status.State != StateFailed {
		return fmt.Errorf("%w: %s is %s", errUnexpectedState, name, status.State)
	}
	if !errors.Is(status.Err, ErrConnection) || !errors.Is(status.Err, ErrConfiguration) {
		return fmt.Errorf("%w: %v", errUnexpectedState, status.Err)
	}
	return nil
}

func (c *RuntimeBDDTestContext) exactlyOneErrorLineShouldReferenceModule(name string) error {
	if n := len(c.fixture.logger.FindEntries("error", "", "unit", name)); n != 1 {
		return fmt.Errorf("expected one error line for %s, got %d", name, n)
	}
	return nil
}

func (c *RuntimeBDDTestContext) everyServiceShouldBeRunningBeforeAnyModuleConnects() error {
	servicesRunning := 0
	for _, e := range c.fixture.events.unitEventsUnchecked() {
		if e.Kind == "service" && e.To == "running" {
			servicesRunning++
		}
		if e.Kind == "module" && e.To == "connected" && servicesRunning < c.rt.Registry().Len() {
			return errOrderingViolated
		}
	}
	return nil
}

func (c *RuntimeBDDTestContext) moduleShouldBeScheduledWith(name, spec string) error {
	for _, e := range c.rt.Scheduler().Entries() {
		if e.Owner == name && e.Spec == spec {
			return nil
		}
	}
	return fmt.Errorf("%w: no entry of %s with spec %q", errUnexpectedState, name, spec)
}

func (c *RuntimeBDDTestContext) theServiceShouldBeRegistered(name string) error {
	_, err := c.rt.Registry().Get(name)
	return err
}

func (c *RuntimeBDDTestContext) onePostWithMediaShouldHaveBeenCreated() error {
	posts := c.fixture.client.Posts()
	if len(posts) != 1 || len(posts[0].Media) != 1 {
		return fmt.Errorf("%w: %+v", errUnexpectedPosts, posts)
	}
	return nil
}

func (c *RuntimeBDDTestContext) aLogLineShouldConfirmThePost() error {
	if len(c.fixture.logger.FindEntries("info", "Posted")) == 0 {
		return errors.New("no log line confirms the post")
	}
	return nil
}

func (c *RuntimeBDDTestContext) theRuntimeShouldStillBeUsable() error {
	if c.loadErr != nil {
		return c.loadErr
	}
	if !c.rt.Registry().Sealed() {
		return fmt.Errorf("%w: registry not sealed", errUnexpectedState)
	}
	return nil
}

// InitializeRuntimeScenario registers the runtime step definitions.
func InitializeRuntimeScenario(ctx *godog.ScenarioContext) {
	testCtx := &RuntimeBDDTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.resetContext()
		return ctx, nil
	})

	ctx.Step(`^I have a runtime with a "([^"]*)" file service holding "([^"]*)"$`, testCtx.iHaveARuntimeWithAFileService)
	ctx.Step(`^a module "([^"]*)" configured with token "([^"]*)" and schedule "([^"]*)"$`, testCtx.aModuleConfiguredWithTokenAndSchedule)
	ctx.Step(`^a module "([^"]*)" configured without a token$`, testCtx.aModuleConfiguredWithoutAToken)
	ctx.Step(`^the environment sets option "([^"]*)" of module "([^"]*)" to "([^"]*)"$`, testCtx.theEnvironmentSetsOption)
	ctx.Step(`^the posting backend rejects the next post$`, testCtx.thePostingBackendRejectsTheNextPost)
	ctx.Step(`^the posting backend accepts posts again$`, testCtx.thePostingBackendAcceptsPostsAgain)

	ctx.Step(`^the runtime loads$`, testCtx.theRuntimeLoads)
	ctx.Step(`^the entries of module "([^"]*)" fire$`, testCtx.theEntriesOfModuleFire)

	ctx.Step(`^the active modules should be "([^"]*)"$`, testCtx.theActiveModulesShouldBe)
	ctx.Step(`^there should be no active modules$`, testCtx.thereShouldBeNoActiveModules)
	ctx.Step(`^module "([^"]*)" should have failed with a connection error$`, testCtx.moduleShouldHaveFailedWithAConnectionError)
	ctx.Step(`^exactly one error line should reference module "([^"]*)"$`, testCtx.exactlyOneErrorLineShouldReferenceModule)
	ctx.Step(`^every service should be running before any module connects$`, testCtx.everyServiceShouldBeRunningBeforeAnyModuleConnects)
	ctx.Step(`^module "([^"]*)" should be scheduled with "([^"]*)"$`, testCtx.moduleShouldBeScheduledWith)
	ctx.Step(`^the service "([^"]*)" should be registered$`, testCtx.theServiceShouldBeRegistered)
	ctx.Step(`^one post with media should have been created$`, testCtx.onePostWithMediaShouldHaveBeenCreated)
	ctx.Step(`^a log line should confirm the post$`, testCtx.aLogLineShouldConfirmThePost)
	ctx.Step(`^the runtime should still be usable$`, testCtx.theRuntimeShouldStillBeUsable)
}

// TestRuntimeFeatures runs the BDD tests for runtime loading
func TestRuntimeFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeRuntimeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/runtime.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
