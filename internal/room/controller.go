package room

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"amadeus/internal/wire"
)

// audioFetchTimeout bounds how long a background helper task waits on
// SongLibrary.Resolve before giving up on one link's round.
const audioFetchTimeout = 30 * time.Second

// roomMsg is the sealed set of messages a controller's mailbox accepts.
type roomMsg interface{ roomMsg() }

type incomingConnMsg struct {
	session string
	link    Link
	reply   chan error
}

func (incomingConnMsg) roomMsg() {}

type closedConnMsg struct {
	session string
	link    Link
}

func (closedConnMsg) roomMsg() {}

type startMsg struct{ session string }

func (startMsg) roomMsg() {}

type nextMsg struct{ session string }

func (nextMsg) roomMsg() {}

type bufferCompleteMsg struct {
	session string
	round   int
}

func (bufferCompleteMsg) roomMsg() {}

type guessMsg struct {
	session string
	round   int
	text    string
}

func (guessMsg) roomMsg() {}

type loadingCompleteMsg struct {
	quiz Quiz
	err  error
}

func (loadingCompleteMsg) roomMsg() {}

type roundTimeoutMsg struct{ round int }

func (roundTimeoutMsg) roomMsg() {}

type reviewTimeoutMsg struct{ round int }

func (reviewTimeoutMsg) roomMsg() {}

type bufferTimeoutMsg struct{ round int }

func (bufferTimeoutMsg) roomMsg() {}

// Controller is the single-writer actor that owns one room's mutable state.
type Controller struct {
	id        string
	createdAt time.Time

	library SongLibrary
	names   SessionDirectory
	log     *slog.Logger

	mailbox chan roomMsg
	done    chan struct{}

	config         atomic.Pointer[RoomConfiguration]
	status         atomic.Pointer[Status]
	connectedCount atomic.Int32
}

// New creates a Controller in Lobby phase and starts its mailbox loop.
func New(id string, library SongLibrary, names SessionDirectory, cfg RoomConfiguration, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		id:        id,
		createdAt: time.Now(),
		library:   library,
		names:     names,
		log:       log.With("room", id),
		mailbox:   make(chan roomMsg, 256),
		done:      make(chan struct{}),
	}
	c.config.Store(&cfg)
	c.status.Store(&Status{Phase: PhaseLobby})
	go c.run(cfg)
	return c
}

// ID returns the room id.
func (c *Controller) ID() string { return c.id }

// CreatedAt returns when the controller started.
func (c *Controller) CreatedAt() time.Time { return c.createdAt }

// Config returns the current configuration without synchronization.
func (c *Controller) Config() RoomConfiguration { return *c.config.Load() }

// Snapshot returns the most recently published status.
func (c *Controller) Snapshot() Status { return *c.status.Load() }

// ConnectedCount returns the number of currently connected links.
func (c *Controller) ConnectedCount() int { return int(c.connectedCount.Load()) }

// Done is closed once the controller has terminated (Finished, no links left).
func (c *Controller) Done() <-chan struct{} { return c.done }

// Join posts an IncomingConnection message and waits for the controller's
// reply: nil means accepted, a CloseError means rejected with that reason.
func (c *Controller) Join(ctx context.Context, session string, link Link) error {
	reply := make(chan error, 1)
	msg := incomingConnMsg{session: session, link: link, reply: reply}
	select {
	case c.mailbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return CloseError{Reason: CloseCannotAccept}
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed posts a ClosedConnection message. Fire and forget.
func (c *Controller) Closed(session string, link Link) {
	c.post(closedConnMsg{session: session, link: link})
}

// Start posts a Start message (host-only; ignored otherwise).
func (c *Controller) Start(session string) { c.post(startMsg{session: session}) }

// Next posts a NextRound message (host-only; ignored otherwise).
func (c *Controller) Next(session string) { c.post(nextMsg{session: session}) }

// BufferComplete posts a client buffering acknowledgement.
func (c *Controller) BufferComplete(session string, round int) {
	c.post(bufferCompleteMsg{session: session, round: round})
}

// Guess posts a client guess.
func (c *Controller) Guess(session string, round int, text string) {
	c.post(guessMsg{session: session, round: round, text: text})
}

func (c *Controller) post(m roomMsg) {
	select {
	case c.mailbox <- m:
	case <-c.done:
	}
}

// controllerState is owned exclusively by the run loop's goroutine.
type controllerState struct {
	phase  Phase
	config RoomConfiguration

	order            []string // session ids, join order
	names            map[string]string
	connectedPlayers map[string]Link
	committedPlayers map[string]struct{}
	hostID           string

	bufferStatus map[string]map[int]struct{}
	scores       map[string]int
	guesses      map[string]string
	correct      map[string]struct{}
	ready        map[string]struct{}
	guessed      map[string]struct{}

	round      int
	roundStart int64
	quiz       *Quiz

	timer *time.Timer
}

func (c *Controller) run(cfg RoomConfiguration) {
	st := &controllerState{
		phase:            PhaseLobby,
		config:           cfg,
		names:            map[string]string{},
		connectedPlayers: map[string]Link{},
		committedPlayers: map[string]struct{}{},
		bufferStatus:     map[string]map[int]struct{}{},
		scores:           map[string]int{},
		guesses:          map[string]string{},
		correct:          map[string]struct{}{},
		ready:            map[string]struct{}{},
		guessed:          map[string]struct{}{},
	}
	c.publish(st)

	for m := range c.mailbox {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("engine failure, finishing room", "panic", r)
					c.forceFinish(st)
				}
			}()
			c.dispatch(st, m)
		}()

		if st.phase == PhaseFinished && len(st.connectedPlayers) == 0 {
			c.cancelTimer(st)
			close(c.done)
			return
		}
	}
}

func (c *Controller) dispatch(st *controllerState, m roomMsg) {
	switch v := m.(type) {
	case incomingConnMsg:
		c.handleIncoming(st, v)
	case closedConnMsg:
		c.handleClosed(st, v)
	case startMsg:
		c.handleStart(st, v)
	case nextMsg:
		c.handleNext(st, v)
	case bufferCompleteMsg:
		c.handleBufferComplete(st, v)
	case guessMsg:
		c.handleGuess(st, v)
	case loadingCompleteMsg:
		c.handleLoadingComplete(st, v)
	case roundTimeoutMsg:
		if st.phase == PhasePlaying && v.round == st.round {
			c.enterReviewing(st)
		}
	case reviewTimeoutMsg:
		if st.phase == PhaseReviewing && v.round == st.round {
			c.advanceFromReviewing(st)
		}
	case bufferTimeoutMsg:
		if st.phase == PhaseBuffering && v.round == st.round {
			c.log.Warn("buffer timeout, starting round without stragglers", "round", v.round)
			c.enterPlaying(st)
		}
	}
}

func (c *Controller) forceFinish(st *controllerState) {
	c.cancelTimer(st)
	st.phase = PhaseFinished
	c.broadcastState(st)
}

// --- admission (spec §4.4.3) ---

func (c *Controller) handleIncoming(st *controllerState, m incomingConnMsg) {
	if existing, ok := st.connectedPlayers[m.session]; ok {
		existing.Close(CloseGoingAway)
		st.connectedPlayers[m.session] = m.link
		m.reply <- nil
		c.afterAdmit(st, m.session, m.link, true)
		return
	}

	switch st.phase {
	case PhaseLobby:
		if len(st.connectedPlayers) >= st.config.MaxPlayers {
			m.reply <- CloseError{Reason: CloseCannotAccept}
			return
		}
		st.order = append(st.order, m.session)
		st.names[m.session] = c.resolveName(m.session)
		if st.hostID == "" {
			st.hostID = m.session
		}
		st.connectedPlayers[m.session] = m.link
		m.reply <- nil
		c.afterAdmit(st, m.session, m.link, false)
	default:
		if _, ok := st.committedPlayers[m.session]; !ok {
			m.reply <- CloseError{Reason: CloseCannotAccept}
			return
		}
		if _, known := st.names[m.session]; !known {
			st.names[m.session] = c.resolveName(m.session)
		}
		st.connectedPlayers[m.session] = m.link
		m.reply <- nil
		c.afterAdmit(st, m.session, m.link, true)
	}
}

func (c *Controller) resolveName(session string) string {
	if c.names != nil {
		if name, ok := c.names.NameFor(session); ok && name != "" {
			return name
		}
	}
	return "player-" + session
}

func (c *Controller) afterAdmit(st *controllerState, session string, link Link, midGame bool) {
	c.connectedCount.Store(int32(len(st.connectedPlayers)))
	link.Send(wire.RoomConfigCommand(st.config.toWire()))
	link.Send(st.snapshot().ToWire())
	if midGame {
		switch st.phase {
		case PhaseBuffering, PhasePlaying, PhaseReviewing:
			c.streamAudioTo(st, st.round, map[string]Link{session: link})
			if st.phase == PhasePlaying && st.round+1 < len(st.quiz.Questions) {
				c.streamAudioTo(st, st.round+1, map[string]Link{session: link})
			}
		}
	}
	c.broadcastStateExcept(st, session)
}

// --- lifecycle ---

func (c *Controller) handleClosed(st *controllerState, m closedConnMsg) {
	if cur, ok := st.connectedPlayers[m.session]; !ok || cur != m.link {
		return
	}
	delete(st.connectedPlayers, m.session)
	c.connectedCount.Store(int32(len(st.connectedPlayers)))
	c.broadcastState(st)
}

func (c *Controller) handleStart(st *controllerState, m startMsg) {
	if st.phase != PhaseLobby || m.session != st.hostID {
		return
	}
	st.committedPlayers = make(map[string]struct{}, len(st.connectedPlayers))
	for session := range st.connectedPlayers {
		st.committedPlayers[session] = struct{}{}
	}
	st.phase = PhaseLoading
	c.broadcastState(st)

	library, rounds := c.library, st.config.Rounds
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), audioFetchTimeout)
		defer cancel()
		quiz, err := library.LoadQuiz(ctx, rounds)
		c.post(loadingCompleteMsg{quiz: quiz, err: err})
	}()
}

func (c *Controller) handleLoadingComplete(st *controllerState, m loadingCompleteMsg) {
	if st.phase != PhaseLoading {
		return
	}
	if m.err != nil || len(m.quiz.Questions) == 0 {
		c.log.Error("quiz load failed, finishing room", "err", m.err)
		st.phase = PhaseFinished
		c.broadcastState(st)
		return
	}
	quiz := m.quiz
	st.quiz = &quiz
	st.round = 0
	st.phase = PhaseBuffering
	st.ready = map[string]struct{}{}
	st.bufferStatus = map[string]map[int]struct{}{}
	c.armBufferTimeout(st, 0)
	c.streamAudioTo(st, 0, st.connectedPlayers)
	c.broadcastState(st)
}

// armBufferTimeout bounds how long Buffering(round) may wait on stragglers
// before the round starts anyway (spec §9 open question 4: a pluggable kick
// threshold, recommended at 2*playTime).
func (c *Controller) armBufferTimeout(st *controllerState, round int) {
	dur := 2 * time.Duration(st.config.PlayTime) * time.Second
	c.armTimer(st, dur, func() { c.post(bufferTimeoutMsg{round: round}) })
}

func (c *Controller) handleNext(st *controllerState, m nextMsg) {
	if m.session != st.hostID {
		return
	}
	switch st.phase {
	case PhaseBuffering:
		c.enterPlaying(st)
	case PhasePlaying:
		c.enterReviewing(st)
	case PhaseReviewing:
		c.advanceFromReviewing(st)
	}
}

// --- buffering / playing / reviewing (spec §4.4.2, §4.4.4, §4.4.5) ---

func (c *Controller) handleBufferComplete(st *controllerState, m bufferCompleteMsg) {
	if st.phase != PhaseBuffering || m.round != st.round {
		return
	}
	if _, ok := st.committedPlayers[m.session]; !ok {
		return // P7
	}
	rounds, ok := st.bufferStatus[m.session]
	if !ok {
		rounds = map[int]struct{}{}
		st.bufferStatus[m.session] = rounds
	}
	rounds[m.round] = struct{}{}
	st.ready[m.session] = struct{}{}
	c.broadcastState(st)

	if c.allConnectedCommittedReady(st) {
		c.enterPlaying(st)
	}
}

func (c *Controller) allConnectedCommittedReady(st *controllerState) bool {
	for session := range st.connectedPlayers {
		if _, committed := st.committedPlayers[session]; !committed {
			continue
		}
		if _, ready := st.ready[session]; !ready {
			return false
		}
	}
	return true
}

func (c *Controller) handleGuess(st *controllerState, m guessMsg) {
	if st.phase != PhasePlaying || m.round != st.round {
		return // P5
	}
	if _, ok := st.committedPlayers[m.session]; !ok {
		return
	}
	st.guesses[m.session] = m.text // overwrite semantics, open question 5
	st.guessed[m.session] = struct{}{}
	c.broadcastState(st)
}

func (c *Controller) enterPlaying(st *controllerState) {
	c.cancelTimer(st)
	st.phase = PhasePlaying
	st.roundStart = time.Now().UnixMilli()
	st.guessed = map[string]struct{}{}

	round := st.round
	dur := time.Duration(st.config.PlayTime+st.config.GuessTime) * time.Second
	c.armTimer(st, dur, func() { c.post(roundTimeoutMsg{round: round}) })

	if st.round+1 < len(st.quiz.Questions) {
		c.streamAudioTo(st, st.round+1, st.connectedPlayers)
	}
	c.broadcastState(st)
}

func (c *Controller) enterReviewing(st *controllerState) {
	c.cancelTimer(st)
	question := st.quiz.Questions[st.round]
	for session, guess := range st.guesses {
		if matches(guess, question.Solution) {
			st.correct[session] = struct{}{}
			st.scores[session]++
		}
	}
	st.phase = PhaseReviewing

	round := st.round
	dur := time.Duration(st.config.ReviewTime) * time.Second
	c.armTimer(st, dur, func() { c.post(reviewTimeoutMsg{round: round}) })
	c.broadcastState(st)
}

func (c *Controller) advanceFromReviewing(st *controllerState) {
	c.cancelTimer(st)
	st.guesses = map[string]string{}
	st.correct = map[string]struct{}{}
	st.ready = map[string]struct{}{}
	st.guessed = map[string]struct{}{}

	next := st.round + 1
	if next < st.config.Rounds && st.quiz != nil && next < len(st.quiz.Questions) {
		st.round = next
		st.phase = PhaseBuffering
		c.armBufferTimeout(st, next)
	} else {
		st.phase = PhaseFinished
	}
	c.broadcastState(st)
}

func matches(guess, solution string) bool {
	return strings.EqualFold(strings.TrimSpace(guess), strings.TrimSpace(solution))
}

// --- audio streaming (spec §4.4.4) ---

// streamAudioTo reads st.quiz on the run-loop goroutine (safe: st is never
// touched off-loop) and hands each target link's own resolve+send to a
// short-lived helper goroutine, so the controller itself never blocks on
// SongLibrary or on a slow socket.
func (c *Controller) streamAudioTo(st *controllerState, round int, targets map[string]Link) {
	if st.quiz == nil || round < 0 || round >= len(st.quiz.Questions) {
		return
	}
	handle := st.quiz.Questions[round].Audio
	for session, link := range targets {
		c.streamAudioOne(round, handle, session, link)
	}
}

func (c *Controller) streamAudioOne(round int, handle AudioHandle, session string, link Link) {
	library := c.library
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), audioFetchTimeout)
		defer cancel()
		data, err := library.Resolve(ctx, handle)
		if err != nil {
			c.log.Warn("resolve audio failed, closing link", "session", session, "round", round, "err", err)
			link.Close(CloseProtocolError)
			c.Closed(session, link)
			return
		}
		if err := link.SendAudio(round, data); err != nil {
			c.log.Warn("send audio failed, closing link", "session", session, "round", round, "err", err)
			link.Close(CloseProtocolError)
			c.Closed(session, link)
		}
	}()
}

// --- timers (C5) ---

func (c *Controller) armTimer(st *controllerState, d time.Duration, fire func()) {
	c.cancelTimer(st)
	st.timer = time.AfterFunc(d, fire)
}

func (c *Controller) cancelTimer(st *controllerState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

// --- status snapshot / broadcast ---

func (st *controllerState) snapshot() Status {
	present := make(map[string]struct{}, len(st.order))
	players := make([]PlayerInfo, 0, len(st.order))
	for _, session := range st.order {
		_, connected := st.connectedPlayers[session]
		_, committed := st.committedPlayers[session]
		if !connected && !committed {
			continue
		}
		if _, dup := present[session]; dup {
			continue
		}
		present[session] = struct{}{}
		players = append(players, PlayerInfo{
			ID:   session,
			Name: st.names[session],
			Host: session == st.hostID,
		})
	}

	s := Status{Phase: st.phase, Players: players, Round: st.round}
	switch st.phase {
	case PhaseBuffering:
		s.Ready = cloneSet(st.ready)
		s.Scores = cloneIntMap(st.scores)
	case PhasePlaying:
		s.RoundStart = st.roundStart
		s.Guessed = cloneSet(st.guessed)
		s.Scores = cloneIntMap(st.scores)
		if st.quiz != nil {
			s.Prompt = st.quiz.Questions[st.round].Prompt
		}
	case PhaseReviewing:
		s.Guesses = cloneStringMap(st.guesses)
		s.Correct = cloneSet(st.correct)
		s.Scores = cloneIntMap(st.scores)
		if st.quiz != nil {
			s.Prompt = st.quiz.Questions[st.round].Prompt
			s.Solution = st.quiz.Questions[st.round].Solution
		}
	case PhaseFinished:
		s.Scores = cloneIntMap(st.scores)
	}
	return s
}

func (c *Controller) publish(st *controllerState) Status {
	snap := st.snapshot()
	c.status.Store(&snap)
	return snap
}

func (c *Controller) broadcastState(st *controllerState) {
	snap := c.publish(st)
	cmd := snap.ToWire()
	for session, link := range st.connectedPlayers {
		if err := link.Send(cmd); err != nil {
			c.log.Warn("broadcast send failed", "session", session, "err", err)
		}
	}
}

func (c *Controller) broadcastStateExcept(st *controllerState, except string) {
	snap := c.publish(st)
	cmd := snap.ToWire()
	for session, link := range st.connectedPlayers {
		if session == except {
			continue
		}
		if err := link.Send(cmd); err != nil {
			c.log.Warn("broadcast send failed", "session", session, "err", err)
		}
	}
}
