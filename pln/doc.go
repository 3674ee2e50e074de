// Package pln fits Poisson-lognormal count models by variational
// approximation.
//
// A model is one of five covariance structurings of the latent Gaussian
// layer (full, spherical, diagonal, rank-constrained and sparse with a
// fixed precision matrix) or one of three VE steps that refine only the
// variational parameters M and S given a fixed regression matrix Theta and
// precision Omega. Each model supplies a closed-form negative evidence
// lower bound with its analytic gradient; Fit packs the free parameter
// blocks into one vector, minimizes it with package optim and derives the
// fitted means, covariance, precision and per-observation log-likelihood
// from the optimum.
//
// Notation used throughout: n observations, p count columns, d covariates,
// q latent dimensions of the rank-constrained model. Y is n×p, X is n×d,
// the offsets O are n×p and the observation weights w have length n. The
// linear predictor is Z = O + XΘᵀ + M (M Bᵀ for the rank model) and
// S2 = S∘S is the variational variance.
package pln
