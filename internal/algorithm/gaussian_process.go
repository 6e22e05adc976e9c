package algorithm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	gpMaxPoints   = 64
	gpRefitPeriod = 16
)

// GaussianProcess is a predictive model for the periodic error typically
// seen in worm-gear mounts. It fits a squared-exponential Gaussian process
// to the recent (timestamp, error) history via BFGS on the negative log
// marginal likelihood (regularized with Gamma/Logistic hyperparameter
// priors, following the original's bespoke optimizer) and adds the
// predicted drift to the aggression-scaled input.
type GaussianProcess struct {
	aggression float64
	minMove    float64
	predictMs  float64 // how far ahead to predict, in samples

	ts     []float64
	errs   []float64
	t      float64
	sinceFit int

	logAmp, logLen, logNoise float64
}

// NewGaussianProcess returns a GaussianProcess filter with reasonable
// starting hyperparameters; the first gpRefitPeriod samples are passed
// through with no drift prediction while the buffer fills.
func NewGaussianProcess() *GaussianProcess {
	gp := &GaussianProcess{
		aggression: 1.0,
		minMove:    0.2,
		predictMs:  1,
		logAmp:     0,
		logLen:     math.Log(8),
		logNoise:   math.Log(0.5),
	}
	return gp
}

func (gp *GaussianProcess) Name() string { return "gaussian_process" }

func (gp *GaussianProcess) Result(input float64) float64 {
	gp.ts = append(gp.ts, gp.t)
	gp.errs = append(gp.errs, input)
	gp.t++
	if len(gp.ts) > gpMaxPoints {
		gp.ts = gp.ts[1:]
		gp.errs = gp.errs[1:]
	}

	gp.sinceFit++
	if len(gp.ts) >= gpRefitPeriod && gp.sinceFit >= gpRefitPeriod {
		gp.fit()
		gp.sinceFit = 0
	}

	drift := 0.0
	if len(gp.ts) >= gpRefitPeriod {
		drift = gp.predict(gp.t - 1 + gp.predictMs)
	}

	result := gp.aggression*input + drift
	return applyMinMove(input, result, gp.minMove)
}

// kernel is the squared-exponential covariance function.
func (gp *GaussianProcess) kernel(a, b float64) float64 {
	amp := math.Exp(gp.logAmp)
	length := math.Exp(gp.logLen)
	d := (a - b) / length
	return amp * amp * math.Exp(-0.5*d*d)
}

func (gp *GaussianProcess) covMatrix(noise float64) *mat.SymDense {
	n := len(gp.ts)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := gp.kernel(gp.ts[i], gp.ts[j])
			if i == j {
				v += noise * noise
			}
			cov.SetSym(i, j, v)
		}
	}
	return cov
}

// negLogMarginalLikelihood is the GP objective, regularized with a Gamma
// prior on the length scale and a Logistic prior on the noise level
// (matching the original's parameter_priors.cpp).
func (gp *GaussianProcess) negLogMarginalLikelihood(params []float64) float64 {
	gp.logAmp, gp.logLen, gp.logNoise = params[0], params[1], params[2]
	noise := math.Exp(gp.logNoise)

	n := len(gp.ts)
	cov := gp.covMatrix(noise)

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return math.MaxFloat64 / 2
	}

	y := mat.NewVecDense(n, gp.errs)
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, y); err != nil {
		return math.MaxFloat64 / 2
	}

	dataTerm := 0.5 * mat.Dot(y, &alpha)

	var logDet float64
	logDet = chol.LogDet()
	complexityTerm := 0.5 * logDet

	gammaPrior := distuv.Gamma{Alpha: 2, Beta: 0.5}
	length := math.Exp(gp.logLen)
	priorLen := -gammaPrior.LogProb(length)

	logisticPrior := distuv.Logistic{Mu: -1, S: 1}
	priorNoise := -logisticPrior.LogProb(gp.logNoise)

	return dataTerm + complexityTerm + priorLen + priorNoise
}

func (gp *GaussianProcess) fit() {
	p := optimize.Problem{
		Func: gp.negLogMarginalLikelihood,
	}
	init := []float64{gp.logAmp, gp.logLen, gp.logNoise}

	result, err := optimize.Minimize(p, init, &optimize.Settings{MajorIterations: 20}, &optimize.BFGS{})
	if err != nil || result == nil {
		return
	}
	gp.logAmp, gp.logLen, gp.logNoise = result.X[0], result.X[1], result.X[2]
}

// predict returns the GP posterior mean at time tStar.
func (gp *GaussianProcess) predict(tStar float64) float64 {
	n := len(gp.ts)
	noise := math.Exp(gp.logNoise)
	cov := gp.covMatrix(noise)

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return 0
	}
	y := mat.NewVecDense(n, gp.errs)
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, y); err != nil {
		return 0
	}

	kStar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kStar.SetVec(i, gp.kernel(gp.ts[i], tStar))
	}
	return mat.Dot(kStar, &alpha)
}

func (gp *GaussianProcess) Reset() {
	gp.ts = nil
	gp.errs = nil
	gp.t = 0
	gp.sinceFit = 0
}

func (gp *GaussianProcess) GetParam(name string) (float64, bool) {
	switch name {
	case "aggression":
		return gp.aggression, true
	case "minMove":
		return gp.minMove, true
	case "predictSamples":
		return gp.predictMs, true
	default:
		return 0, false
	}
}

func (gp *GaussianProcess) SetParam(name string, value float64) error {
	switch name {
	case "aggression":
		if value < 0 {
			return fmt.Errorf("aggression must be >= 0")
		}
		gp.aggression = value
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		gp.minMove = value
	case "predictSamples":
		gp.predictMs = value
	default:
		return fmt.Errorf("unknown gaussian_process param %q", name)
	}
	return nil
}

func (gp *GaussianProcess) SettingsSummary() string {
	return fmt.Sprintf("Aggression = %.0f%%, Minimum move = %.2f, predict ahead %.1f samples",
		gp.aggression*100, gp.minMove, gp.predictMs)
}
