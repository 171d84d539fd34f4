package env

import (
	"errors"
	"fmt"
	"io"
	"math/rand"

	"grimm.is/humangym/internal/channel"
)

// DemoGame is the game id served by ServeDemo.
const DemoGame = "Catch-v0"

// Catch geometry.
const (
	catchWidth   = 10
	catchHeight  = 10
	catchScale   = 8
	catchBalls   = 10
	catchNoop    = 0
	catchLeft    = 1
	catchRight   = 2
	catchPaddleW = 3
)

// catch is a small falling-ball game used when no real engine is
// installed, and by tests.
type catch struct {
	rng    *rand.Rand
	paddle int
	ballX  int
	ballY  int
	balls  int
}

func newCatch(seed int64) *catch {
	c := &catch{rng: rand.New(rand.NewSource(seed))}
	c.reset()
	return c
}

func (c *catch) reset() {
	c.paddle = (catchWidth - catchPaddleW) / 2
	c.balls = 0
	c.drop()
}

func (c *catch) drop() {
	c.ballX = c.rng.Intn(catchWidth)
	c.ballY = 0
}

func (c *catch) step(action int) *StepResult {
	switch action {
	case catchLeft:
		if c.paddle > 0 {
			c.paddle--
		}
	case catchRight:
		if c.paddle < catchWidth-catchPaddleW {
			c.paddle++
		}
	}

	c.ballY++
	reward := 0.0
	if c.ballY == catchHeight-1 {
		if c.ballX >= c.paddle && c.ballX < c.paddle+catchPaddleW {
			reward = 1
		} else {
			reward = -1
		}
		c.balls++
		c.drop()
	}

	return &StepResult{
		Observation: []int{c.paddle, c.ballX, c.ballY},
		Reward:      reward,
		Done:        c.balls >= catchBalls,
		Info:        map[string]any{"balls": c.balls},
	}
}

func (c *catch) render() *Frame {
	w, h := catchWidth*catchScale, catchHeight*catchScale
	f := &Frame{Width: w, Height: h, Channels: 3, Pix: make([]byte, w*h*3)}
	fill := func(cx, cy int, r, g, b byte) {
		for y := cy * catchScale; y < (cy+1)*catchScale; y++ {
			for x := cx * catchScale; x < (cx+1)*catchScale; x++ {
				i := (y*w + x) * 3
				f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
			}
		}
	}
	for i := 0; i < catchPaddleW; i++ {
		fill(c.paddle+i, catchHeight-1, 0xe0, 0xe0, 0xe0)
	}
	fill(c.ballX, c.ballY, 0xd0, 0x40, 0x30)
	return f
}

// ServeDemo answers bridge requests for the built-in Catch game until a
// close request or end of input.
func ServeDemo(r io.Reader, w io.Writer, seed int64) error {
	codec := channel.NewCodec(r, w)
	var game *catch

	for {
		var req BridgeRequest
		if err := codec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := BridgeResponse{OK: true}
		switch req.Op {
		case OpStart:
			if req.Game != "" && req.Game != DemoGame {
				resp = BridgeResponse{Error: fmt.Sprintf("unknown game %q", req.Game)}
				break
			}
			game = newCatch(seed)
		case OpStep, OpRender, OpReset:
			if game == nil {
				resp = BridgeResponse{Error: "not started"}
				break
			}
			switch req.Op {
			case OpStep:
				resp.Step = game.step(req.Action)
			case OpRender:
				resp.Frame = game.render()
			case OpReset:
				game.reset()
			}
		case OpClose:
			return codec.Encode(resp)
		default:
			resp = BridgeResponse{Error: fmt.Sprintf("unknown op %q", req.Op)}
		}

		if err := codec.Encode(resp); err != nil {
			return err
		}
	}
}

// NewDemo returns a Live adapter connected to an in-process Catch engine.
func NewDemo(seed int64) *Live {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		err := ServeDemo(reqR, respW, seed)
		respW.CloseWithError(err)
		reqR.Close()
	}()
	return NewLiveConn(respR, reqW)
}
