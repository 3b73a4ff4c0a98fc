package mcmc

import (
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/checkpoint"
	"bitbucket.org/Davydov/gobeast/operator"
)

// checkpointData returns the current chain checkpoint.
func (c *Chain) checkpointData(final bool) (*checkpoint.Data, error) {
	data := &checkpoint.Data{
		RunID:      c.runID,
		Parameters: c.parameterMap(),
		Posterior:  c.l,
		Iter:       c.i,
		Final:      final,
		Operators:  make(map[string]checkpoint.OperatorData, c.schedule.Len()),
	}
	for i, op := range c.schedule.Operators() {
		st := op.Stats()
		od := checkpoint.OperatorData{
			Weight:        op.Weight(),
			BaseWeight:    c.schedule.BaseWeight(i),
			Count:         st.Count,
			Accepted:      st.Accepted,
			Rejected:      st.Rejected,
			Failed:        st.Failed,
			SumAcceptProb: st.SumAcceptProb,
		}
		if co, ok := op.(operator.Coercible); ok {
			t := co.CoercableParameter()
			od.Tuning = &t
		}
		if cp, ok := op.(operator.Checkpointer); ok {
			b, err := cp.SaveState()
			if err != nil {
				return nil, errors.Wrap(err, op.Name())
			}
			od.State = b
		}
		data.Operators[op.Name()] = od
	}
	return data, nil
}

// saveCheckpoint saves the chain state if checkpointing is enabled.
// Errors are logged, a failed checkpoint does not stop the chain.
func (c *Chain) saveCheckpoint(final bool) {
	if c.cpIO == nil {
		return
	}
	data, err := c.checkpointData(final)
	if err != nil {
		log.Errorf("%s: checkpoint: %v", c.Name, err)
		return
	}
	_ = c.cpIO.Save(data)
}

// Resume restores parameter values, operator state and the
// iteration counter from a checkpoint. It has to be called before
// Run.
func (c *Chain) Resume(data *checkpoint.Data) error {
	if c.status != Initialized {
		return errors.Wrapf(ErrNotReady, "cannot resume a %s chain", c.status)
	}
	if data.Iter < 0 {
		return errors.Errorf("checkpoint: negative iteration %d", data.Iter)
	}
	for _, p := range c.g.Parameters() {
		v, ok := data.Parameters[p.ID()]
		if !ok {
			log.Warningf("checkpoint has no values for %s", p.ID())
			continue
		}
		if len(v) != p.Dimension() {
			return errors.Errorf("checkpoint: %s has dimension %d, expected %d", p.ID(), len(v), p.Dimension())
		}
		for i, x := range v {
			if err := p.SetValue(i, x); err != nil {
				return errors.Wrap(err, "checkpoint")
			}
		}
	}
	for i, op := range c.schedule.Operators() {
		od, ok := data.Operators[op.Name()]
		if !ok {
			log.Warningf("checkpoint has no state for operator %s", op.Name())
			continue
		}
		base := od.BaseWeight
		if base == 0 {
			// checkpoints without base weights
			base = od.Weight
		}
		c.schedule.Restore(i, base, od.Weight)
		st := op.Stats()
		st.Count = od.Count
		st.Accepted = od.Accepted
		st.Rejected = od.Rejected
		st.Failed = od.Failed
		st.SumAcceptProb = od.SumAcceptProb
		if co, ok := op.(operator.Coercible); ok && od.Tuning != nil {
			co.SetCoercableParameter(*od.Tuning)
		}
		if cp, ok := op.(operator.Checkpointer); ok && len(od.State) > 0 {
			if err := cp.LoadState(od.State); err != nil {
				return errors.Wrap(err, "checkpoint")
			}
		}
	}
	if err := c.schedule.OperatorsUpdated(); err != nil {
		return errors.Wrap(err, "checkpoint")
	}
	c.i = data.Iter
	if data.RunID != "" {
		c.runID = data.RunID
	}
	log.Noticef("%s: resumed at iteration %d", c.Name, c.i)
	return nil
}
